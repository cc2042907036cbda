// Package fusion implements C7 Hybrid Fusion: alpha-blended min-max
// score normalization and Reciprocal Rank Fusion over BM25 and dense
// candidate lists. The RRF implementation is grounded on
// internal/service/retriever.go reciprocalRankFusion; alpha blending is
// new (only RRF was implemented there).
package fusion

import (
	"sort"

	"github.com/normex/ragbox-normex/internal/model"
)

// AlphaBlend min-max normalizes bm25 and dense scores within their own
// lists and combines them as (1-alpha)*norm_bm25 + alpha*norm_dense.
// Missing contributions default to 0. Ties are broken by stable
// insertion order with BM25 before dense.
func AlphaBlend(bm25Results, denseResults []model.SearchResult, alpha float64) []model.SearchResult {
	bm25Norm := minMaxNormalize(bm25Results)
	denseNorm := minMaxNormalize(denseResults)

	type entry struct {
		chunk model.Chunk
		score float64
		order int
	}
	order := 0
	byID := make(map[string]*entry)
	var ids []string

	for _, r := range bm25Results {
		id := r.Chunk.ChunkID
		if _, ok := byID[id]; !ok {
			byID[id] = &entry{chunk: r.Chunk, order: order}
			ids = append(ids, id)
			order++
		}
		byID[id].score += (1 - alpha) * bm25Norm[id]
	}
	for _, r := range denseResults {
		id := r.Chunk.ChunkID
		if _, ok := byID[id]; !ok {
			byID[id] = &entry{chunk: r.Chunk, order: order}
			ids = append(ids, id)
			order++
		}
		byID[id].score += alpha * denseNorm[id]
	}

	sort.SliceStable(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.order < b.order
	})

	out := make([]model.SearchResult, 0, len(ids))
	for i, id := range ids {
		e := byID[id]
		out = append(out, model.SearchResult{
			Chunk:      e.chunk,
			Score:      e.score,
			Rank:       i + 1,
			SearchType: model.SearchHybrid,
		})
	}
	return out
}

func minMaxNormalize(results []model.SearchResult) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	span := max - min
	for _, r := range results {
		if span == 0 {
			out[r.Chunk.ChunkID] = 1
			continue
		}
		out[r.Chunk.ChunkID] = (r.Score - min) / span
	}
	return out
}

// RRF combines bm25Results and denseResults by Reciprocal Rank Fusion:
// score(x) = sum 1/(k + rank_in_list) across the lists the candidate
// appears in. Ties are broken by stable insertion order, BM25 before
// dense.
func RRF(bm25Results, denseResults []model.SearchResult, k int) []model.SearchResult {
	if k <= 0 {
		k = 60
	}

	type entry struct {
		chunk model.Chunk
		score float64
		order int
	}
	order := 0
	byID := make(map[string]*entry)
	var ids []string

	accumulate := func(results []model.SearchResult) {
		for rank, r := range results {
			id := r.Chunk.ChunkID
			if _, ok := byID[id]; !ok {
				byID[id] = &entry{chunk: r.Chunk, order: order}
				ids = append(ids, id)
				order++
			}
			byID[id].score += 1.0 / float64(k+rank+1)
		}
	}
	accumulate(bm25Results)
	accumulate(denseResults)

	sort.SliceStable(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.order < b.order
	})

	out := make([]model.SearchResult, 0, len(ids))
	for i, id := range ids {
		e := byID[id]
		out = append(out, model.SearchResult{
			Chunk:      e.chunk,
			Score:      e.score,
			Rank:       i + 1,
			SearchType: model.SearchHybrid,
		})
	}
	return out
}

// SearchK computes the per-constituent candidate count requested before
// fusion: max(k*2, 20), or 50 when reranking is enabled.
func SearchK(k int, rerankEnabled bool) int {
	if rerankEnabled {
		return 50
	}
	if v := k * 2; v > 20 {
		return v
	}
	return 20
}
