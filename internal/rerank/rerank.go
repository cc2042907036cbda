// Package rerank implements C8: a primary cross-encoder-style reranker
// scoring batches of (query, passage) pairs via the Generate capability,
// a secondary single-pair 1-10 scale fallback, and a pass-through stage
// when both fail. Grounded on the reranker fallback
// chain design note (§9); the dual-reranker shape itself traces to
// original_source/rag_service/services/reranker_service.py.
package rerank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/normex/ragbox-normex/internal/generation"
	"github.com/normex/ragbox-normex/internal/model"
)

const (
	maxBatchSize  = 10
	maxPassageLen = 500
)

// Reranker is C8.
type Reranker struct {
	client generation.Client
}

// NewReranker creates a Reranker.
func NewReranker(client generation.Client) *Reranker {
	return &Reranker{client: client}
}

// Rerank scores candidates against query through the pipeline
// {primary → secondary → fallback}. On transport or parse failure of
// the primary batched reranker, falls back to the secondary single-pair
// 1-10 scale reranker; if that also fails, returns the input order
// truncated to topK with rerank_method="fallback". Per the Open
// Question in §9, this implementation designates the batched
// cross-encoder-style prompt as primary and the 1-10 scale prompt as
// secondary.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []model.SearchResult, topK int) []model.SearchResult {
	if len(candidates) == 0 {
		return candidates
	}

	scores, method, ok := r.tryPrimary(ctx, query, candidates)
	if !ok {
		scores, method, ok = r.trySecondary(ctx, query, candidates)
	}
	if !ok {
		return passThrough(candidates, topK)
	}

	out := make([]model.SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = c
		out[i].OriginalScore = c.Score
		out[i].RerankScore = scores[i]
		out[i].Score = scores[i]
		out[i].RerankMethod = method
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankScore > out[j].RerankScore })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func passThrough(candidates []model.SearchResult, topK int) []model.SearchResult {
	out := make([]model.SearchResult, len(candidates))
	copy(out, candidates)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].RerankMethod = "fallback"
		out[i].Rank = i + 1
	}
	return out
}

// tryPrimary scores candidates in batches of <= maxBatchSize using an
// enumerated-list prompt, asking for one [0,1] (or 1-10 scaled) score
// per line.
func (r *Reranker) tryPrimary(ctx context.Context, query string, candidates []model.SearchResult) ([]float64, string, bool) {
	scores := make([]float64, len(candidates))

	for start := 0; start < len(candidates); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		prompt := buildBatchPrompt(query, batch)
		text, err := r.client.Generate(ctx, prompt, generation.Deterministic(200))
		if err != nil {
			return nil, "", false
		}

		batchScores := parseScores(text, len(batch))
		if batchScores == nil {
			return nil, "", false
		}
		copy(scores[start:end], batchScores)
	}

	return scores, "primary", true
}

// trySecondary scores each candidate independently with a single-pair
// 1-10 scale prompt.
func (r *Reranker) trySecondary(ctx context.Context, query string, candidates []model.SearchResult) ([]float64, string, bool) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		prompt := buildSinglePairPrompt(query, truncate(c.Chunk.Content, maxPassageLen))
		text, err := r.client.Generate(ctx, prompt, generation.Deterministic(20))
		if err != nil {
			return nil, "", false
		}
		parsed := parseScores(text, 1)
		if parsed == nil {
			return nil, "", false
		}
		scores[i] = parsed[0]
	}
	return scores, "secondary", true
}

func buildBatchPrompt(query string, batch []model.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Запрос: %s\n\nОцените релевантность каждого отрывка запросу по шкале от 0 до 1. Выведите ровно одно число на строку в том же порядке.\n\n", query)
	for i, c := range batch {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, truncate(c.Chunk.Content, maxPassageLen))
	}
	return sb.String()
}

func buildSinglePairPrompt(query, passage string) string {
	return fmt.Sprintf("Запрос: %s\nОтрывок: %s\nОцените релевантность отрывка запросу по шкале от 1 до 10. Выведите только число.", query, passage)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var numberRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// parseScores extracts numeric tokens in order, clamping/scaling per
// Score normalization: if s > 1, divide by 10; if still > 1, clamp to 1. Pads
// with 0.5 if fewer scores than want are found, truncates if more.
func parseScores(text string, want int) []float64 {
	matches := numberRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]float64, 0, want)
	for _, m := range matches {
		normalized := strings.ReplaceAll(m, ",", ".")
		v, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			continue
		}
		if v > 1 {
			v = v / 10
		}
		if v > 1 {
			v = 1
		}
		if v < 0 {
			v = 0
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	for len(out) < want {
		out = append(out, 0.5)
	}
	if len(out) > want {
		out = out[:want]
	}
	return out
}
