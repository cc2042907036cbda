// Package dense implements C6 Dense Retriever: wraps the embedding
// client and vector store to embed a query and search, returning
// results in the same record shape BM25 produces. Grounded on the
// retriever.go VectorSearcher usage pattern (structurally),
// adapted to the vectorstore/embedding packages built for this domain.
package dense

import (
	"context"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/vectorstore"
)

// Embedder abstracts query embedding (implemented by embedding.Service).
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts ANN search (implemented by vectorstore.Client).
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.SearchHit, error)
}

// Retriever is C6.
type Retriever struct {
	embedder Embedder
	store    Searcher
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder Embedder, store Searcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds query and performs a filtered ANN search, returning
// results tagged search_type=dense.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter *vectorstore.Filter) ([]model.SearchResult, error) {
	const op = "dense.Search"
	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, apperr.New(op, apperr.Upstream, err)
	}

	hits, err := r.store.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, apperr.New(op, apperr.Transient, err)
	}

	out := make([]model.SearchResult, 0, len(hits))
	for i, h := range hits {
		out = append(out, model.SearchResult{
			Chunk: model.Chunk{
				ChunkID:      h.Payload.ChunkID,
				DocumentID:   h.Payload.DocumentID,
				Content:      h.Payload.Content,
				Page:         h.Payload.Page,
				Section:      h.Payload.Section,
				SectionTitle: h.Payload.SectionTitle,
				ChunkType:    h.Payload.ChunkType,
				Metadata:     model.ChunkMetadata{DocNumber: h.Payload.Code},
			},
			Score:      h.Score,
			Rank:       i + 1,
			SearchType: model.SearchDense,
			ResultID:   h.ID,
		})
	}
	return out, nil
}
