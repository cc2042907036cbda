// Package corpuscache implements the BM25 corpus cache's shared-resource
// policy: read-dominantly shared, lazily trained on
// first query, and thereafter treated as immutable until an
// administrative Flush. Grounded structurally on
// internal/repository/db.go pooled-resource-under-mutex shape, applied
// here to the bm25.Engine instead of a connection pool.
package corpuscache

import (
	"context"
	"sync"

	"github.com/normex/ragbox-normex/internal/bm25"
	"github.com/normex/ragbox-normex/internal/model"
)

// Source loads every chunk in the corpus for (re)training.
type Source interface {
	GetAllChunks(ctx context.Context) ([]model.Chunk, error)
}

// Cache lazily trains and serves a bm25.Engine, and resolves chunk ids
// back to full records for the retrieval orchestrator's ChunkLookup.
type Cache struct {
	source Source

	mu     sync.RWMutex
	engine *bm25.Engine
	byID   map[string]model.Chunk
	ids    []string
}

// New constructs an untrained Cache; the first Search call trains it.
func New(source Source) *Cache {
	return &Cache{source: source}
}

// Flush invalidates the trained engine; the next Search retrains from
// Source.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = nil
	c.byID = nil
	c.ids = nil
}

func (c *Cache) ensureTrained(ctx context.Context) (*bm25.Engine, error) {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()
	if engine != nil {
		return engine, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return c.engine, nil
	}

	chunks, err := c.source.GetAllChunks(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]bm25.Document, len(chunks))
	byID := make(map[string]model.Chunk, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		docs[i] = bm25.Document{ID: chunk.ChunkID, Text: chunk.Content}
		byID[chunk.ChunkID] = chunk
		ids[i] = chunk.ChunkID
	}

	engine = bm25.NewEngine()
	if err := engine.Fit(docs); err != nil {
		return nil, err
	}

	c.engine = engine
	c.byID = byID
	c.ids = ids
	return engine, nil
}

// Search trains the corpus on first call, then delegates to the
// trained engine. Satisfies retrieval.BM25Searcher, whose signature
// (matching the synchronous search path) carries no context;
// the untrained-corpus training fetch is rare (once, or after Flush)
// and runs to completion rather than being cancellable mid-fetch.
func (c *Cache) Search(query string, documentIDs []string, k int) ([]bm25.Result, error) {
	engine, err := c.ensureTrained(context.Background())
	if err != nil {
		return nil, err
	}
	return engine.Search(query, documentIDs, k)
}

// Lookup satisfies retrieval.ChunkLookup.
func (c *Cache) Lookup(chunkID string) (model.Chunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chunk, ok := c.byID[chunkID]
	return chunk, ok
}

// AllIDs satisfies the orchestrator's allChunkIDs callback.
func (c *Cache) AllIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}
