// Package mmr implements C9: Maximal Marginal Relevance diversification
// of a fused/reranked candidate list. Grounded line-for-line on
// original_source/rag_service/services/mmr_service.py (MMRService),
// translated from its TF/cosine similarity helpers into Go, with the
// tiered structural-similarity shortcuts (id/chunk+doc/doc/code) kept
// verbatim before falling back to content cosine similarity.
package mmr

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/normex/ragbox-normex/internal/model"
)

const (
	// DefaultLambda balances relevance (1.0) against diversity (0.0).
	DefaultLambda = 0.7
	minTokenLen   = 3
)

var (
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	russianStops = map[string]struct{}{
		"и": {}, "в": {}, "на": {}, "с": {}, "по": {}, "для": {}, "от": {}, "до": {}, "из": {}, "к": {},
		"о": {}, "у": {}, "за": {}, "при": {}, "без": {}, "через": {}, "над": {}, "под": {}, "между": {},
		"среди": {}, "вокруг": {}, "около": {}, "далеко": {}, "здесь": {}, "там": {}, "где": {}, "когда": {},
		"как": {}, "что": {}, "кто": {}, "который": {}, "это": {}, "тот": {}, "этот": {}, "такой": {},
		"какой": {}, "весь": {}, "все": {}, "вся": {}, "всё": {}, "каждый": {}, "любой": {}, "другой": {},
		"иной": {}, "сам": {}, "сама": {}, "само": {}, "сами": {}, "себя": {}, "себе": {}, "собой": {},
		"мой": {}, "моя": {}, "моё": {}, "мои": {}, "твой": {}, "твоя": {}, "твоё": {}, "твои": {},
		"его": {}, "её": {}, "их": {}, "наш": {}, "наша": {}, "наше": {}, "наши": {}, "ваш": {}, "ваша": {},
		"ваше": {}, "ваши": {}, "или": {}, "но": {}, "а": {}, "да": {}, "нет": {}, "не": {}, "ни": {},
		"же": {}, "ли": {}, "бы": {}, "б": {}, "то": {},
	}
)

// Diversifier holds the MMR parameters.
type Diversifier struct {
	Lambda               float64
	SimilarityThreshold  float64
	UseSemanticSimilarity bool
}

// NewDiversifier builds a Diversifier with the default lambda=0.7.
func NewDiversifier() *Diversifier {
	return &Diversifier{Lambda: DefaultLambda, SimilarityThreshold: 0.8, UseSemanticSimilarity: true}
}

// Diversify applies greedy MMR selection over candidates, returning at
// most k results tagged with mmr_score/relevance_score/diversity_score.
// If query is non-empty, relevance is recomputed as cosine similarity
// against the query instead of the incoming fused score.
func (d *Diversifier) Diversify(candidates []model.SearchResult, k int, query string) []model.MMRResult {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= k {
		return toMMRResults(candidates)
	}

	pool := toMMRResults(candidates)
	if query != "" {
		computeRelevance(pool, query)
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].RelevanceScore > pool[j].RelevanceScore })

	selected := []model.MMRResult{pool[0]}
	remaining := pool[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, candidate := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				sim := d.similarity(candidate, s)
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := d.Lambda*candidate.RelevanceScore - (1-d.Lambda)*maxSim
			remaining[i].MMRScore = mmrScore
			remaining[i].DiversityScore = maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	for i := range selected {
		selected[i].Rank = i + 1
	}
	return selected
}

func toMMRResults(results []model.SearchResult) []model.MMRResult {
	out := make([]model.MMRResult, len(results))
	for i, r := range results {
		out[i] = model.MMRResult{
			SearchResult:   r,
			MMRScore:       r.Score,
			RelevanceScore: r.Score,
		}
	}
	return out
}

func computeRelevance(results []model.MMRResult, query string) {
	queryTF := computeTF(tokenize(query))
	for i := range results {
		contentTF := computeTF(tokenize(results[i].Chunk.Content))
		results[i].RelevanceScore = cosineSimilarity(queryTF, contentTF)
	}
}

// similarity follows the tiered shortcut cascade from
// rag_service/services/mmr_service.py before falling back to content
// similarity.
func (d *Diversifier) similarity(a, b model.MMRResult) float64 {
	if a.ResultID != 0 && a.ResultID == b.ResultID {
		return 1.0
	}
	if a.Chunk.DocumentID == b.Chunk.DocumentID && a.Chunk.ChunkID == b.Chunk.ChunkID {
		return 0.9
	}
	if a.Chunk.DocumentID == b.Chunk.DocumentID {
		return 0.7
	}
	codeA, codeB := a.Chunk.Metadata.DocNumber, b.Chunk.Metadata.DocNumber
	if codeA != "" && codeA == codeB {
		return 0.6
	}
	if d.UseSemanticSimilarity {
		return contentSimilarity(a.Chunk.Content, b.Chunk.Content)
	}
	return textSimilarity(a.Chunk.Content, b.Chunk.Content)
}

func contentSimilarity(c1, c2 string) float64 {
	t1, t2 := tokenize(c1), tokenize(c2)
	if len(t1) == 0 || len(t2) == 0 {
		return 0
	}
	sim := cosineSimilarity(computeTF(t1), computeTF(t2))

	set1, set2 := toSet(t1), toSet(t2)
	common := 0
	for tok := range set1 {
		if _, ok := set2[tok]; ok {
			common++
		}
	}
	if common > 0 {
		denom := len(set1)
		if len(set2) > denom {
			denom = len(set2)
		}
		boost := float64(common) / float64(denom)
		sim = math.Min(1.0, sim+boost*0.2)
	}
	return sim
}

func textSimilarity(c1, c2 string) float64 {
	set1, set2 := toSet(tokenize(c1)), toSet(tokenize(c2))
	if len(set1) == 0 || len(set2) == 0 {
		return 0
	}
	intersection := 0
	for tok := range set1 {
		if _, ok := set2[tok]; ok {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(text string) []string {
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(text), " ")
	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) <= minTokenLen-1 {
			continue
		}
		if _, stop := russianStops[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func computeTF(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]float64)
	for _, t := range tokens {
		tf[t]++
	}
	n := float64(len(tokens))
	for t := range tf {
		tf[t] /= n
	}
	return tf
}

func cosineSimilarity(tf1, tf2 map[string]float64) float64 {
	if len(tf1) == 0 || len(tf2) == 0 {
		return 0
	}
	var dot, norm1, norm2 float64
	seen := make(map[string]struct{}, len(tf1)+len(tf2))
	for tok := range tf1 {
		seen[tok] = struct{}{}
	}
	for tok := range tf2 {
		seen[tok] = struct{}{}
	}
	for tok := range seen {
		a, b := tf1[tok], tf2[tok]
		dot += a * b
		norm1 += a * a
		norm2 += b * b
	}
	if norm1 == 0 || norm2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2))
}

// DiversityStats reports aggregate diversity over a result set, used by
// the monitoring surface.
type DiversityStats struct {
	DiversityScore  float64
	UniqueDocuments int
	DuplicateRatio  float64
}

// Stats computes pairwise-average similarity diversity statistics.
func (d *Diversifier) Stats(results []model.MMRResult) DiversityStats {
	if len(results) == 0 {
		return DiversityStats{}
	}
	uniqueDocs := make(map[int64]struct{})
	var totalSim float64
	var pairs int
	for i := range results {
		uniqueDocs[results[i].Chunk.DocumentID] = struct{}{}
		for j := i + 1; j < len(results); j++ {
			totalSim += d.similarity(results[i], results[j])
			pairs++
		}
	}
	avgSim := 0.0
	if pairs > 0 {
		avgSim = totalSim / float64(pairs)
	}
	return DiversityStats{
		DiversityScore:  1 - avgSim,
		UniqueDocuments: len(uniqueDocs),
		DuplicateRatio:  avgSim,
	}
}
