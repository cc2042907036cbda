// Package retrieval implements C12, the single public Search/BuildContext
// operation that sequences intent classification (C10), BM25 (C5),
// dense retrieval (C6), hybrid fusion (C7), reranking (C8), MMR (C9),
// and context building (C11). Grounded on
// internal/service/retriever.go concurrent fan-out pattern (bm25/dense
// run concurrently via golang.org/x/sync/errgroup).
package retrieval

import (
	"context"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/bm25"
	"github.com/normex/ragbox-normex/internal/contextbuilder"
	"github.com/normex/ragbox-normex/internal/fusion"
	"github.com/normex/ragbox-normex/internal/intent"
	"github.com/normex/ragbox-normex/internal/metadata"
	"github.com/normex/ragbox-normex/internal/mmr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/rerank"
	"github.com/normex/ragbox-normex/internal/vectorstore"
	"golang.org/x/sync/errgroup"
)

const defaultK = 8

// BM25Searcher abstracts the lexical path (C5).
type BM25Searcher interface {
	Search(query string, documentIDs []string, k int) ([]bm25.Result, error)
}

// ChunkLookup resolves a BM25 document id (the chunk id) into its full
// Chunk record, since the BM25 engine only tracks id/text/score.
type ChunkLookup func(chunkID string) (model.Chunk, bool)

// DenseSearcher abstracts the dense path (C6).
type DenseSearcher interface {
	Search(ctx context.Context, query string, k int, filter *vectorstore.Filter) ([]model.SearchResult, error)
}

// Flags toggles the optional stages of Search.
type Flags struct {
	UseReranker            bool
	UseMMR                 bool
	UseIntentClassification bool
	FastMode               bool
}

// Filters narrows candidate retrieval; zero values mean "no filter".
type Filters struct {
	Section   string
	ChunkType string
}

// Orchestrator is C12.
type Orchestrator struct {
	bm25        BM25Searcher
	bm25Lookup  ChunkLookup
	allChunkIDs func() []string
	dense       DenseSearcher
	reranker    *rerank.Reranker
	mmr         *mmr.Diversifier
	classifier  *intent.Classifier
	builder     *contextbuilder.Builder

	alpha float64
	rrfK  int
	useRRF bool
}

// Config wires the Orchestrator's dependencies and fusion tuning.
type Config struct {
	Alpha  float64
	UseRRF bool
	RRFK   int
}

// New builds an Orchestrator. bm25Lookup and allChunkIDs give the
// orchestrator access to the BM25 corpus's full chunk records and id
// space (the BM25 engine itself only knows ids, text, and scores).
func New(
	bm25Engine BM25Searcher,
	bm25Lookup ChunkLookup,
	allChunkIDs func() []string,
	dense DenseSearcher,
	reranker *rerank.Reranker,
	diversifier *mmr.Diversifier,
	classifier *intent.Classifier,
	builder *contextbuilder.Builder,
	cfg Config,
) *Orchestrator {
	if cfg.RRFK == 0 {
		cfg.RRFK = 60
	}
	return &Orchestrator{
		bm25:        bm25Engine,
		bm25Lookup:  bm25Lookup,
		allChunkIDs: allChunkIDs,
		dense:       dense,
		reranker:    reranker,
		mmr:         diversifier,
		classifier:  classifier,
		builder:     builder,
		alpha:       cfg.Alpha,
		rrfK:        cfg.RRFK,
		useRRF:      cfg.UseRRF,
	}
}

// Search runs the full retrieval pipeline and returns at most k ranked
// results.
func (o *Orchestrator) Search(ctx context.Context, query string, k int, filters Filters, flags Flags) ([]model.SearchResult, error) {
	if k <= 0 {
		k = defaultK
	}

	if flags.UseIntentClassification && !flags.FastMode && o.classifier != nil {
		classification := o.classifier.Classify(ctx, query)
		rewriting := intent.Rewrite(query, classification)
		if filters.Section == "" && len(rewriting.SectionFilters) > 0 {
			filters.Section = rewriting.SectionFilters[0]
		}
		if filters.ChunkType == "" && len(rewriting.ChunkTypeFilters) > 0 {
			filters.ChunkType = rewriting.ChunkTypeFilters[0]
		}
	}

	searchK := fusion.SearchK(k, flags.UseReranker)
	fused, err := o.fusedCandidates(ctx, query, searchK, filters)
	if err != nil {
		return nil, err
	}

	results := fused
	if flags.UseReranker && !flags.FastMode && len(results) > k && o.reranker != nil {
		results = o.reranker.Rerank(ctx, query, results, len(results))
	}

	if flags.UseMMR && !flags.FastMode && len(results) > k && o.mmr != nil {
		mmrResults := o.mmr.Diversify(results, k, query)
		results = make([]model.SearchResult, len(mmrResults))
		for i, m := range mmrResults {
			r := m.SearchResult
			r.Score = m.MMRScore
			r.Rank = i + 1
			results[i] = r
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// fusedCandidates runs BM25 and dense concurrently (errgroup
// fan-out pattern) and fuses them. A failure in one constituent
// degrades to the other; failure in both yields an Upstream error.
func (o *Orchestrator) fusedCandidates(ctx context.Context, query string, searchK int, filters Filters) ([]model.SearchResult, error) {
	var bm25Out []model.SearchResult
	var denseOut []model.SearchResult
	var bm25Err, denseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bm25Out, bm25Err = o.runBM25(query, searchK, filters)
		return nil
	})
	g.Go(func() error {
		var vsFilter *vectorstore.Filter
		if filters.Section != "" || filters.ChunkType != "" {
			vsFilter = &vectorstore.Filter{}
			if filters.Section != "" {
				vsFilter.Constraints = append(vsFilter.Constraints, vectorstore.Constraint{Key: "section", Value: filters.Section})
			}
			if filters.ChunkType != "" {
				vsFilter.Constraints = append(vsFilter.Constraints, vectorstore.Constraint{Key: "chunk_type", Value: filters.ChunkType})
			}
		}
		denseOut, denseErr = o.dense.Search(gctx, query, searchK, vsFilter)
		return nil
	})
	_ = g.Wait()

	switch {
	case bm25Err == nil && denseErr == nil:
		if o.useRRF {
			return fusion.RRF(bm25Out, denseOut, o.rrfK), nil
		}
		return fusion.AlphaBlend(bm25Out, denseOut, o.alpha), nil
	case denseErr == nil:
		return denseOut, nil
	case bm25Err == nil:
		return bm25Out, nil
	default:
		return nil, apperr.New("retrieval.Search", apperr.Upstream, denseErr)
	}
}

func (o *Orchestrator) runBM25(query string, k int, filters Filters) ([]model.SearchResult, error) {
	if o.bm25 == nil || o.allChunkIDs == nil {
		return nil, nil
	}
	ids := o.allChunkIDs()
	hits, err := o.bm25.Search(query, ids, k)
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		chunk, ok := o.bm25Lookup(h.ID)
		if !ok {
			continue
		}
		if filters.Section != "" && chunk.Section != filters.Section {
			continue
		}
		if filters.ChunkType != "" && string(chunk.ChunkType) != filters.ChunkType {
			continue
		}
		out = append(out, model.SearchResult{
			Chunk:      chunk,
			Score:      h.Score,
			Rank:       h.Rank,
			SearchType: model.SearchBM25,
		})
	}
	return out, nil
}

// BuildContext composes Search with C11 context building, and applies
// the missing-code warning behavior: if the query
// names a normative code absent from the results, the meta-summary is
// annotated with a warning instead of an error.
func (o *Orchestrator) BuildContext(ctx context.Context, query string, k int, filters Filters, flags Flags) (model.StructuredContext, error) {
	results, err := o.Search(ctx, query, k, filters, flags)
	if err != nil {
		// Both BM25 and dense retrieval failed: degrade to an empty
		// structured context (coverage_quality="нет результатов")
		// instead of surfacing an upstream error.
		return o.builder.Build(ctx, query, nil), nil
	}

	structured := o.builder.Build(ctx, query, results)
	applyMissingCodeWarning(&structured, query, results)
	return structured, nil
}

func applyMissingCodeWarning(sc *model.StructuredContext, query string, results []model.SearchResult) {
	code, ok := metadata.DetectCode(query)
	if !ok {
		return
	}
	number, ok := metadata.DetectCodeNumber(query)
	if !ok {
		return
	}
	for _, r := range results {
		if r.Chunk.Metadata.DocNumber == number {
			return
		}
	}

	sc.MetaSummary.Warning = "warning"
	sc.MetaSummary.MissingDocument = code
	sc.MetaSummary.Confidence = 0.5
	for i := range sc.Context {
		sc.Context[i].Why = "не является запрашиваемым"
	}
}
