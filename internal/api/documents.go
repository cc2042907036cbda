package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/parser"
)

// DocumentRepository abstracts the persisted uploaded_documents rows.
type DocumentRepository interface {
	SaveDocument(ctx context.Context, doc model.Document) (int64, error)
	GetDocument(ctx context.Context, documentID int64) (model.Document, error)
}

// Indexer abstracts C14's entry point for the service layer.
type Indexer interface {
	Submit(task model.IndexingTask) error
}

// DocumentService implements upload and status lookup, deferring all
// parsing/chunking/embedding work to the indexing pipeline (per the
// Ingest operation in §3: uploaded bytes are accepted, persisted, and
// handed to C14; the heavy lifting happens off the request path).
type DocumentService struct {
	store      DocumentRepository
	indexer    Indexer
	maxRetries int
}

// NewDocumentService constructs a DocumentService.
func NewDocumentService(store DocumentRepository, indexer Indexer, maxRetries int) *DocumentService {
	return &DocumentService{store: store, indexer: indexer, maxRetries: maxRetries}
}

// Upload validates the file type, persists a new pending document row,
// and submits an indexing task. A duplicate document_hash fails with
// apperr.Duplicate.
func (s *DocumentService) Upload(ctx context.Context, filename, category string, content []byte) (model.Document, error) {
	fileType, ok := parser.FileTypeOf(filename)
	if !ok {
		return model.Document{}, apperr.New("DocumentService.Upload", apperr.InputInvalid,
			fmt.Errorf("unsupported file type for %q", filename))
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	doc := model.Document{
		Filename:         filename,
		OriginalFilename: filename,
		FileType:         fileType,
		FileSize:         int64(len(content)),
		DocumentHash:     hash,
		Category:         category,
		ProcessingStatus: model.StatusPending,
	}

	id, err := s.store.SaveDocument(ctx, doc)
	if err != nil {
		return model.Document{}, err
	}
	doc.ID = id

	task := model.IndexingTask{
		DocumentID:   id,
		Filename:     filename,
		ContentBytes: content,
		Category:     category,
		Priority:     model.PriorityNormal,
		MaxRetries:   s.maxRetries,
	}
	if err := s.indexer.Submit(task); err != nil {
		return doc, err
	}
	return doc, nil
}

// Status fetches one document's current processing state.
func (s *DocumentService) Status(ctx context.Context, documentID int64) (model.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}
