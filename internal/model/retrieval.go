package model

import "time"

// SearchType records which retrieval path produced a SearchResult.
type SearchType string

const (
	SearchBM25     SearchType = "bm25"
	SearchDense    SearchType = "dense"
	SearchHybrid   SearchType = "hybrid"
	SearchFallback SearchType = "fallback"
)

// SearchResult is a transient, unpersisted record produced anywhere
// along the retrieval path (BM25, dense, fused, reranked).
type SearchResult struct {
	Chunk         Chunk
	Score         float64
	Rank          int
	RerankScore   float64
	OriginalScore float64
	RerankMethod  string // primary, secondary, fallback
	SearchType    SearchType
	// ResultID is the originating vector-store point id for dense hits
	// (0 for BM25-only hits, which have no separate point identity).
	// Two results sharing a ResultID are the literal same indexed point;
	// this is a stricter identity than matching Chunk.DocumentID+ChunkID,
	// which only means "the same logical chunk."
	ResultID uint64
}

// MMRResult augments a SearchResult with MMR bookkeeping.
type MMRResult struct {
	SearchResult
	MMRScore       float64
	RelevanceScore float64
	DiversityScore float64
}

// ContextCandidate is one entry in a StructuredContext's context list.
type ContextCandidate struct {
	Chunk      Chunk
	Score      float64
	Why        string
	Summary    *CandidateSummary
	MergedFrom int // number of adjacent candidates folded into this one, 0 if none
}

// CandidateSummary is the parsed per-candidate auto-summary (C11 step 2).
type CandidateSummary struct {
	Topic        string   // ТЕМА
	NormType     string   // ТИП_НОРМЫ
	KeyPoints    []string // КЛЮЧЕВЫЕ_МОМЕНТЫ
	WhyRelevant  string   // ПРИЧИНА_РЕЛЕВАНТНОСТИ
}

// MetaSummary is the top-level rollup over a StructuredContext.
type MetaSummary struct {
	QueryType       string
	DocumentsFound  int
	SectionsCovered int
	AvgRelevance    float64
	CoverageQuality string
	KeyDocuments    []string
	KeySections     []string
	Warning         string
	MissingDocument string
	Confidence      float64
}

// StructuredContext is the final answer-assembly output of BuildContext.
type StructuredContext struct {
	Query          string
	Timestamp      time.Time
	Context        []ContextCandidate
	MetaSummary    MetaSummary
	TotalCandidates int
	AvgScore       float64
}
