package dense

import (
	"context"

	"github.com/normex/ragbox-normex/internal/cache"
)

// CachingEmbedder wraps an Embedder with a query→vector cache, avoiding
// redundant embedding calls for repeated or identical queries.
type CachingEmbedder struct {
	inner Embedder
	cache *cache.EmbeddingCache
}

// NewCachingEmbedder wraps inner with the given embedding cache.
func NewCachingEmbedder(inner Embedder, c *cache.EmbeddingCache) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: c}
}

// EmbedOne returns the cached vector for query if present, otherwise
// embeds via inner and caches the result.
func (e *CachingEmbedder) EmbedOne(ctx context.Context, query string) ([]float32, error) {
	key := cache.EmbeddingQueryHash(query)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := e.inner.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec)
	return vec, nil
}
