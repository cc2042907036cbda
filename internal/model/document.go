// Package model holds the entities shared across the retrieval and
// indexing pipelines: Document, Chunk, VectorPoint, IndexingTask, the
// transient retrieval records, and StructuredContext.
package model

import "time"

// ProcessingStatus mirrors a Document's indexing lifecycle.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusIndexing  ProcessingStatus = "indexing"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// FileType enumerates the supported source formats.
type FileType string

const (
	FilePDF  FileType = "pdf"
	FileDOCX FileType = "docx"
	FileTXT  FileType = "txt"
)

// Document is the persisted record for one uploaded source file.
type Document struct {
	ID                   int64            `db:"id"`
	Filename             string           `db:"filename"`
	OriginalFilename     string           `db:"original_filename"`
	FileType             FileType         `db:"file_type"`
	FileSize             int64            `db:"file_size"`
	DocumentHash         string           `db:"document_hash"` // content SHA-256, unique
	Category             string           `db:"category"`
	DocumentType         string           `db:"document_type"`
	ProcessingStatus     ProcessingStatus `db:"processing_status"`
	IndexingProgress     int              `db:"indexing_progress"` // 0..100, monotonically non-decreasing within one attempt
	ProcessingError      string           `db:"processing_error"`
	RetryCount           int              `db:"retry_count"`
	LastRetryAttempt     *time.Time       `db:"last_retry_attempt"`
	LastProcessingUpdate time.Time        `db:"last_processing_update"`
	TokenCount           int              `db:"token_count"`
	UploadDate           time.Time        `db:"upload_date"`
}

// ChunkType enumerates the recognized passage roles within a document.
type ChunkType string

const (
	ChunkParagraph   ChunkType = "paragraph"
	ChunkDefinition  ChunkType = "definition"
	ChunkScope       ChunkType = "scope"
	ChunkRequirement ChunkType = "requirement"
	ChunkProcedure   ChunkType = "procedure"
	ChunkException   ChunkType = "exception"
)

// Chunk is one ranking-friendly passage owned by a Document.
type Chunk struct {
	ChunkID      string
	DocumentID   int64
	DocumentTitle string
	Content      string
	Page         int
	Chapter      string
	Section      string
	SectionTitle string
	ChunkType    ChunkType
	Metadata     ChunkMetadata
}

// ChunkMetadata is the opaque-to-callers, concretely-typed annotation
// attached to every Chunk by the metadata extractor (C3).
type ChunkMetadata struct {
	DocType      string // GOST, SP, SNiP, FNP, CORP_STD, OTHER
	DocNumber    string
	EditionYear  int
	Status       string // active, repealed, replaced, unknown
	ReplacedBy   string
	Tags         []string
	Checksum     string
	Paragraph    string
	IngestedAt   time.Time
	Lang         string
}

// VectorPoint is the payload mirror upserted into the ANN store for one
// Chunk. Its Vector is L2-normalized; its ID is deterministic in
// (DocumentID, ChunkID).
type VectorPoint struct {
	ID           uint64
	Vector       []float32
	DocumentID   int64
	ChunkID      string
	Code         string
	Title        string
	SectionTitle string
	Content      string
	ChunkType    ChunkType
	Page         int
	Section      string
	Metadata     ChunkMetadata
}

// Priority orders IndexingTask dispatch within the FIFO queue.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// IndexingTask is one unit of ingestion work.
type IndexingTask struct {
	DocumentID   int64
	AttemptNo    int
	Filename     string
	ContentBytes []byte
	Category     string
	Priority     Priority
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	LastAttempt  time.Time
}
