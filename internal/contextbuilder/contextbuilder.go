// Package contextbuilder implements C11: deduplication/merge of ranked
// candidates, per-candidate LLM summaries, and the top-level
// meta-summary. Grounded on
// original_source/rag_service/services/context_builder_service.py
// (ContextBuilderService._deduplicate_and_merge,
// _generate_candidate_summary, _parse_summary_response,
// _generate_meta_summary), re-expressed over internal/generation.Client
// and internal/model.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/normex/ragbox-normex/internal/generation"
	"github.com/normex/ragbox-normex/internal/model"
)

const (
	adjacentPageThreshold = 2
	snippetLen            = 200
	contentPromptLen      = 1000
)

// Builder is C11.
type Builder struct {
	client generation.Client
}

// NewBuilder builds a Builder. client may be nil to skip per-candidate
// summaries entirely (they are best-effort and failures are tolerated).
func NewBuilder(client generation.Client) *Builder {
	return &Builder{client: client}
}

// Build assembles a StructuredContext from ranked search results.
func (b *Builder) Build(ctx context.Context, query string, results []model.SearchResult) model.StructuredContext {
	candidates := toCandidates(results)
	merged := deduplicateAndMerge(candidates)
	b.attachSummaries(ctx, merged, query)
	return buildFinalContext(merged, query)
}

func toCandidates(results []model.SearchResult) []model.ContextCandidate {
	out := make([]model.ContextCandidate, len(results))
	for i, r := range results {
		out[i] = model.ContextCandidate{
			Chunk: r.Chunk,
			Score: r.Score,
			Why:   relevanceReason(r),
		}
	}
	return out
}

func relevanceReason(r model.SearchResult) string {
	switch r.SearchType {
	case model.SearchBM25:
		return "keyword_match"
	case model.SearchDense:
		return "semantic_match"
	}
	switch {
	case r.Score > 0.8:
		return "high_relevance"
	case r.Score > 0.6:
		return "medium_relevance"
	default:
		return "low_relevance"
	}
}

// deduplicateAndMerge groups candidates by (code, section), keeping
// first-group-encountered order, then merges page-adjacent candidates
// within each group.
func deduplicateAndMerge(candidates []model.ContextCandidate) []model.ContextCandidate {
	type group struct {
		key   string
		items []model.ContextCandidate
	}
	var order []string
	groups := make(map[string]*group)

	for _, c := range candidates {
		key := c.Chunk.Metadata.DocNumber + "_" + c.Chunk.Section
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.items = append(g.items, c)
	}

	var merged []model.ContextCandidate
	for _, key := range order {
		g := groups[key]
		if len(g.items) == 1 {
			merged = append(merged, g.items[0])
			continue
		}
		sort.SliceStable(g.items, func(i, j int) bool { return g.items[i].Chunk.Page < g.items[j].Chunk.Page })
		merged = append(merged, mergeAdjacent(g.items)...)
	}
	return merged
}

func mergeAdjacent(items []model.ContextCandidate) []model.ContextCandidate {
	if len(items) <= 1 {
		return items
	}

	var out []model.ContextCandidate
	current := items[0]
	mergedCount := 0

	for _, next := range items[1:] {
		if abs(next.Chunk.Page-current.Chunk.Page) <= adjacentPageThreshold {
			current.Chunk.Content += "\n\n" + next.Chunk.Content
			if next.Score > current.Score {
				current.Why = next.Why
			}
			if next.Score > current.Score {
				current.Score = next.Score
			}
			mergedCount++
			current.MergedFrom = mergedCount
		} else {
			out = append(out, current)
			current = next
			mergedCount = 0
		}
	}
	out = append(out, current)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (b *Builder) attachSummaries(ctx context.Context, candidates []model.ContextCandidate, query string) {
	if b.client == nil {
		return
	}
	for i := range candidates {
		summary := b.generateSummary(ctx, candidates[i], query)
		candidates[i].Summary = summary
	}
}

func (b *Builder) generateSummary(ctx context.Context, c model.ContextCandidate, query string) *model.CandidateSummary {
	prompt := buildSummaryPrompt(c, query)
	text, err := b.client.Generate(ctx, prompt, generation.Options{Temperature: 0, MaxTokens: 200, TopP: 0.9})
	if err != nil {
		return nil
	}
	return parseSummary(text)
}

func buildSummaryPrompt(c model.ContextCandidate, query string) string {
	content := c.Chunk.Content
	if len([]rune(content)) > contentPromptLen {
		content = string([]rune(content)[:contentPromptLen])
	}
	return fmt.Sprintf(`Проанализируй следующий фрагмент нормативного документа и создай краткую сводку (5-7 строк):

Документ: %s - %s
Раздел: %s - %s
Запрос пользователя: %s

Содержимое:
%s

Создай сводку в формате:
ТЕМА: [о чем раздел в 1-2 предложениях]
ТИП_НОРМЫ: [обязательная/рекомендательная/информационная]
КЛЮЧЕВЫЕ_МОМЕНТЫ: [3-4 ключевых момента через точку с запятой]
ПРИЧИНА_РЕЛЕВАНТНОСТИ: [почему этот фрагмент релевантен запросу]`,
		c.Chunk.Metadata.DocNumber, c.Chunk.DocumentTitle, c.Chunk.Section, c.Chunk.SectionTitle, query, content)
}

func parseSummary(text string) *model.CandidateSummary {
	var topic, normType, relevanceReason string
	var keyPoints []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ТЕМА:"):
			topic = strings.TrimSpace(strings.TrimPrefix(line, "ТЕМА:"))
		case strings.HasPrefix(line, "ТИП_НОРМЫ:"):
			normType = strings.TrimSpace(strings.TrimPrefix(line, "ТИП_НОРМЫ:"))
		case strings.HasPrefix(line, "КЛЮЧЕВЫЕ_МОМЕНТЫ:"):
			pointsText := strings.TrimSpace(strings.TrimPrefix(line, "КЛЮЧЕВЫЕ_МОМЕНТЫ:"))
			for _, p := range strings.Split(pointsText, ";") {
				if p = strings.TrimSpace(p); p != "" {
					keyPoints = append(keyPoints, p)
				}
			}
		case strings.HasPrefix(line, "ПРИЧИНА_РЕЛЕВАНТНОСТИ:"):
			relevanceReason = strings.TrimSpace(strings.TrimPrefix(line, "ПРИЧИНА_РЕЛЕВАНТНОСТИ:"))
		}
	}

	if topic == "" {
		topic = "Не удалось определить тему"
	}
	if normType == "" {
		normType = "неопределенный"
	}
	if relevanceReason == "" {
		relevanceReason = "Релевантность не определена"
	}

	return &model.CandidateSummary{
		Topic:       topic,
		NormType:    normType,
		KeyPoints:   keyPoints,
		WhyRelevant: relevanceReason,
	}
}

func buildFinalContext(candidates []model.ContextCandidate, query string) model.StructuredContext {
	meta := buildMetaSummary(candidates, query)

	var totalScore float64
	for _, c := range candidates {
		totalScore += c.Score
	}
	avg := 0.0
	if len(candidates) > 0 {
		avg = totalScore / float64(len(candidates))
	}

	return model.StructuredContext{
		Query:           query,
		Timestamp:       time.Now(),
		Context:         candidates,
		MetaSummary:     meta,
		TotalCandidates: len(candidates),
		AvgScore:        avg,
	}
}

func buildMetaSummary(candidates []model.ContextCandidate, query string) model.MetaSummary {
	if len(candidates) == 0 {
		return model.MetaSummary{CoverageQuality: "нет результатов"}
	}

	type scored struct {
		key   string
		score float64
	}
	docScores := make(map[string]float64)
	sectionScores := make(map[string]float64)
	var totalScore float64

	for _, c := range candidates {
		if doc := c.Chunk.Metadata.DocNumber; doc != "" {
			if c.Score > docScores[doc] {
				docScores[doc] = c.Score
			}
		}
		if sec := c.Chunk.Section; sec != "" {
			if c.Score > sectionScores[sec] {
				sectionScores[sec] = c.Score
			}
		}
		totalScore += c.Score
	}
	avg := totalScore / float64(len(candidates))

	coverage := "низкая"
	switch {
	case avg >= 0.7:
		coverage = "высокая"
	case avg >= 0.5:
		coverage = "средняя"
	}

	return model.MetaSummary{
		QueryType:       classifyQueryType(query),
		DocumentsFound:  len(docScores),
		SectionsCovered: len(sectionScores),
		AvgRelevance:    avg,
		CoverageQuality: coverage,
		KeyDocuments:    topN(docScores, 3),
		KeySections:     topN(sectionScores, 3),
	}
}

func classifyQueryType(query string) string {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "требования", "обязательно", "должен", "необходимо"):
		return "требования"
	case containsAny(lower, "рекомендации", "рекомендуется", "желательно"):
		return "рекомендации"
	case containsAny(lower, "определение", "что такое", "означает"):
		return "определения"
	default:
		return "общая информация"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func topN(scores map[string]float64, n int) []string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool { return scores[keys[i]] > scores[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
