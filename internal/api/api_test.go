package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/retrieval"
)

type fakeRepo struct {
	docs    map[int64]model.Document
	nextID  int64
	hashes  map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: map[int64]model.Document{}, hashes: map[string]bool{}}
}

func (f *fakeRepo) SaveDocument(_ context.Context, doc model.Document) (int64, error) {
	if f.hashes[doc.DocumentHash] {
		return 0, apperr.New("fakeRepo.SaveDocument", apperr.InputInvalid, apperr.Duplicate)
	}
	f.nextID++
	doc.ID = f.nextID
	f.docs[f.nextID] = doc
	f.hashes[doc.DocumentHash] = true
	return f.nextID, nil
}

func (f *fakeRepo) GetDocument(_ context.Context, documentID int64) (model.Document, error) {
	doc, ok := f.docs[documentID]
	if !ok {
		return model.Document{}, apperr.New("fakeRepo.GetDocument", apperr.NotFound, fmt.Errorf("not found"))
	}
	return doc, nil
}

type fakeIndexer struct {
	submitted []model.IndexingTask
}

func (f *fakeIndexer) Submit(task model.IndexingTask) error {
	f.submitted = append(f.submitted, task)
	return nil
}

type fakeOrchestrator struct {
	results    []model.SearchResult
	structured model.StructuredContext
}

func (f *fakeOrchestrator) Search(_ context.Context, _ string, _ int, _ retrieval.Filters, _ retrieval.Flags) ([]model.SearchResult, error) {
	return f.results, nil
}

func (f *fakeOrchestrator) BuildContext(_ context.Context, _ string, _ int, _ retrieval.Filters, _ retrieval.Flags) (model.StructuredContext, error) {
	return f.structured, nil
}

func multipartUpload(t *testing.T, filename, category, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	if category != "" {
		_ = w.WriteField("category", category)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadHandler_AcceptsTxtFile(t *testing.T) {
	repo := newFakeRepo()
	idx := &fakeIndexer{}
	svc := NewDocumentService(repo, idx, 3)
	router := New(Dependencies{Documents: svc, Orchestrator: &fakeOrchestrator{}, Version: "test"})

	req := multipartUpload(t, "gost-123.txt", "building-codes", "requirement text")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(idx.submitted) != 1 {
		t.Fatalf("expected one submitted indexing task, got %d", len(idx.submitted))
	}
}

func TestUploadHandler_RejectsUnsupportedExtension(t *testing.T) {
	repo := newFakeRepo()
	idx := &fakeIndexer{}
	svc := NewDocumentService(repo, idx, 3)
	router := New(Dependencies{Documents: svc, Orchestrator: &fakeOrchestrator{}, Version: "test"})

	req := multipartUpload(t, "image.png", "", "bytes")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError && rec.Code != http.StatusConflict {
		t.Fatalf("expected an error status for unsupported extension, got %d", rec.Code)
	}
}

func TestUploadHandler_DuplicateHashReturnsConflict(t *testing.T) {
	repo := newFakeRepo()
	idx := &fakeIndexer{}
	svc := NewDocumentService(repo, idx, 3)
	router := New(Dependencies{Documents: svc, Orchestrator: &fakeOrchestrator{}, Version: "test"})

	router.ServeHTTP(httptest.NewRecorder(), multipartUpload(t, "a.txt", "", "same content"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "a.txt", "", "same content"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestStatusHandler_ReturnsDocument(t *testing.T) {
	repo := newFakeRepo()
	repo.docs[1] = model.Document{ID: 1, Filename: "a.txt", ProcessingStatus: model.StatusIndexing}
	svc := NewDocumentService(repo, &fakeIndexer{}, 3)
	router := New(Dependencies{Documents: svc, Orchestrator: &fakeOrchestrator{}, Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestStatusHandler_UnknownIDReturnsNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := NewDocumentService(repo, &fakeIndexer{}, 3)
	router := New(Dependencies{Documents: svc, Orchestrator: &fakeOrchestrator{}, Version: "test"})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSearchHandler_ReturnsResults(t *testing.T) {
	orch := &fakeOrchestrator{results: []model.SearchResult{{Chunk: model.Chunk{ChunkID: "c1"}, Score: 0.9}}}
	router := New(Dependencies{Documents: NewDocumentService(newFakeRepo(), &fakeIndexer{}, 3), Orchestrator: orch, Version: "test"})

	body, _ := json.Marshal(searchRequest{Query: "пожарная безопасность", K: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSearchHandler_RejectsEmptyQuery(t *testing.T) {
	router := New(Dependencies{Documents: NewDocumentService(newFakeRepo(), &fakeIndexer{}, 3), Orchestrator: &fakeOrchestrator{}, Version: "test"})

	body, _ := json.Marshal(searchRequest{Query: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContextHandler_ReturnsStructuredContext(t *testing.T) {
	orch := &fakeOrchestrator{structured: model.StructuredContext{Query: "q", TotalCandidates: 2}}
	router := New(Dependencies{Documents: NewDocumentService(newFakeRepo(), &fakeIndexer{}, 3), Orchestrator: orch, Version: "test"})

	body, _ := json.Marshal(searchRequest{Query: "q"})
	req := httptest.NewRequest(http.MethodPost, "/api/context", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	router := New(Dependencies{Documents: NewDocumentService(newFakeRepo(), &fakeIndexer{}, 3), Orchestrator: &fakeOrchestrator{}, Version: "v1.2.3"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
