package retrieval

import (
	"context"

	"github.com/normex/ragbox-normex/internal/cache"
	"github.com/normex/ragbox-normex/internal/model"
)

// CachingOrchestrator wraps an Orchestrator with a query→StructuredContext
// cache. Search passes through uncached since result sets are cheap to
// recompute and callers typically page/filter them; BuildContext is the
// expensive path (reranking, MMR, intent classification, summarization)
// worth memoizing for repeated queries.
type CachingOrchestrator struct {
	*Orchestrator
	cache *cache.ContextCache
}

// NewCaching wraps orch with the given context cache.
func NewCaching(orch *Orchestrator, c *cache.ContextCache) *CachingOrchestrator {
	return &CachingOrchestrator{Orchestrator: orch, cache: c}
}

// BuildContext returns the cached StructuredContext for query if present,
// otherwise delegates to the wrapped Orchestrator and caches the result.
func (c *CachingOrchestrator) BuildContext(ctx context.Context, query string, k int, filters Filters, flags Flags) (model.StructuredContext, error) {
	if cached, ok := c.cache.Get(query); ok {
		return cached, nil
	}

	sc, err := c.Orchestrator.BuildContext(ctx, query, k, filters, flags)
	if err != nil {
		return model.StructuredContext{}, err
	}
	c.cache.Set(query, sc)
	return sc, nil
}
