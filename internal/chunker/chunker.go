// Package chunker converts raw extracted document text into a sequence
// of token-budgeted, sentence-aware, header-merging passages with page
// and structure (chapter/section) tracking. Grounded structurally on the
// internal/service/chunker.go (ChunkerService, segment-based
// accumulate-then-overlap shape), with the Russian-specific algorithm
// (page markers, sentence boundary rules, header-merge pass, chars/4
// token heuristic) ported from original_source/rag_service/config/
// chunking_config.py and the chunking description of the source system.
//
// Go's RE2 regexp engine has no lookahead assertions, so the sentence
// terminator followed by capital-Cyrillic/digit-dot/end-of-text rule
// (expressed with a lookahead in that Python config) is implemented as
// an explicit boundary scanner instead of a single regex; the resulting
// boundary set is the same.
package chunker

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/config"
	"github.com/normex/ragbox-normex/internal/metadata"
	"github.com/normex/ragbox-normex/internal/model"
)

var pageMarkerRe = regexp.MustCompile(`Страница\s+(\d+)\s+из\s+\d+`)

// headerMarkers is the closed set of words whose presence at the end of
// a chunk signals it governs a following continuation.
var headerMarkers = []string{
	"глава", "раздел", "часть", "пункт", "подпункт",
	"статья", "параграф", "абзац", "подраздел",
}

var chapterRe = regexp.MustCompile(`(?i)^\s*(ГЛАВА|РАЗДЕЛ|ЧАСТЬ)\s+(\d+)\s*[.\-]?\s*(.*)$`)
var sectionRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+){1,3})\s+(.+)$`)

// Service implements C4 Document Chunker.
type Service struct {
	cfg config.ChunkingConfig
}

// NewService creates a Service bound to a chunking configuration.
func NewService(cfg config.ChunkingConfig) *Service {
	return &Service{cfg: cfg}
}

// Chunk splits text into ordered, structure-tagged chunks.
func (s *Service) Chunk(text string, documentID int64, documentTitle string, doc metadata.DocumentRecord) ([]model.Chunk, error) {
	const op = "chunker.Chunk"
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(op, apperr.InputInvalid, errEmptyText)
	}

	pages := splitPages(text)

	var segs []segment
	var chapter, section string

	for _, pg := range pages {
		sentences, chapters, sections := s.annotatedSentences(pg.content, chapter, section)
		pageSegs := s.buildSegments(sentences, chapters, sections, pg.number)
		segs = append(segs, pageSegs...)
		if len(chapters) > 0 {
			chapter = chapters[len(chapters)-1]
		}
		if len(sections) > 0 {
			section = sections[len(sections)-1]
		}
	}

	if len(segs) == 0 {
		return nil, apperr.New(op, apperr.InputInvalid, errNoContent)
	}

	segs = s.mergeSmallTrailingSegment(segs)
	segs = s.headerMergePass(segs)

	chunks := make([]model.Chunk, 0, len(segs))
	for i, seg := range segs {
		content := strings.TrimSpace(seg.content)
		if content == "" {
			continue
		}
		chunkID := fmt.Sprintf("%d-%d", documentID, i)
		chunks = append(chunks, model.Chunk{
			ChunkID:       chunkID,
			DocumentID:    documentID,
			DocumentTitle: documentTitle,
			Content:       content,
			Page:          seg.page,
			Chapter:       seg.chapter,
			Section:       seg.section,
			SectionTitle:  seg.sectionTitle,
			ChunkType:     model.ChunkParagraph,
			Metadata:      metadata.ChunkMetadataFrom(doc, content, seg.section, seg.page, chunkID, model.ChunkParagraph),
		})
	}

	return chunks, nil
}

type page struct {
	number  int
	content string
}

// splitPages splits text on the literal "Страница X из Y" marker,
// preserving page numbers; absent markers, the whole text is page 1.
func splitPages(text string) []page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []page{{number: 1, content: text}}
	}

	var pages []page
	prevEnd := 0
	prevNumber := 1
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		content := text[prevEnd:start]
		if strings.TrimSpace(content) != "" {
			pages = append(pages, page{number: prevNumber, content: content})
		}
		numStr := text[loc[2]:loc[3]]
		var n int
		fmt.Sscanf(numStr, "%d", &n)
		prevNumber = n
		prevEnd = end
	}
	if tail := text[prevEnd:]; strings.TrimSpace(tail) != "" {
		pages = append(pages, page{number: prevNumber, content: tail})
	}
	if len(pages) == 0 {
		return []page{{number: 1, content: text}}
	}
	return pages
}

type segment struct {
	content      string
	page         int
	chapter      string
	section      string
	sectionTitle string
}

// annotatedSentences splits pageText into sentences and, in lockstep,
// the chapter/section that governs each sentence (inheriting the
// carry-over values from the previous page until a new heading appears).
func (s *Service) annotatedSentences(pageText, carryChapter, carrySection string) (sentences, chapters, sections []string) {
	raw := splitSentences(pageText, s.cfg.MinSentenceLength)

	chapter, section := carryChapter, carrySection
	for _, sent := range raw {
		trimmed := strings.TrimSpace(sent)
		if m := chapterRe.FindStringSubmatch(trimmed); m != nil {
			chapter = strings.TrimSpace(m[1] + " " + m[2])
		}
		if m := sectionRe.FindStringSubmatch(trimmed); m != nil {
			if deeperSection(m[1], section) {
				section = m[1]
			}
		}
		sentences = append(sentences, sent)
		chapters = append(chapters, chapter)
		sections = append(sections, section)
	}
	return
}

// deeperSection reports whether candidate has at least as many
// dot-separated components as current (the "deepest numeric code wins"
// tie-break; on equal depth the later code wins).
func deeperSection(candidate, current string) bool {
	if current == "" {
		return true
	}
	return strings.Count(candidate, ".") >= strings.Count(current, ".")
}

// splitSentences implements the four-pattern boundary rule from
// chunking_config.py without lookahead: a run of [.!?] is a boundary
// when followed by whitespace then an uppercase Cyrillic letter, a
// digit followed by '.', an uppercase letter followed by a space, or
// when it occurs at end of text. Sentences shorter than minLen
// characters are dropped.
func splitSentences(text string, minLen int) []string {
	runes := []rune(text)
	n := len(runes)
	var out []string
	start := 0
	i := 0
	for i < n {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			termEnd := i + 1
			for termEnd < n && (runes[termEnd] == '.' || runes[termEnd] == '!' || runes[termEnd] == '?') {
				termEnd++
			}
			if isSentenceBoundary(runes, termEnd) {
				out = append(out, strings.TrimSpace(string(runes[start:termEnd])))
				start = termEnd
				i = termEnd
				continue
			}
			i = termEnd
			continue
		}
		i++
	}
	if start < n {
		tail := strings.TrimSpace(string(runes[start:]))
		if tail != "" {
			out = append(out, tail)
		}
	}

	var filtered []string
	for _, s := range out {
		if len([]rune(s)) >= minLen {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func isSentenceBoundary(runes []rune, pos int) bool {
	if pos >= len(runes) {
		return true // end of text
	}
	j := pos
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j >= len(runes) {
		return true
	}
	if j == pos {
		// no whitespace followed the terminator (e.g. "5.2"): not a boundary.
		return false
	}
	r := runes[j]
	if unicode.IsDigit(r) {
		// digit followed by '.' (numbered point)
		if j+1 < len(runes) && runes[j+1] == '.' {
			return true
		}
	}
	if unicode.IsUpper(r) {
		// uppercase Cyrillic always; other uppercase letters only when
		// followed by a space
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
		if j+1 < len(runes) && runes[j+1] == ' ' {
			return true
		}
	}
	return false
}

func (s *Service) estimateTokens(text string) int {
	chars := len([]rune(text))
	return int(math.Ceil(float64(chars) * s.cfg.TokensPerChar))
}

// buildSegments greedily accumulates sentences into token-budgeted chunks, per
// §4.4 step 3-4 (emit-before on max, emit-after on target+min, overlap
// seeding by sentence count).
func (s *Service) buildSegments(sentences, chapters, sections []string, pageNum int) []segment {
	if len(sentences) == 0 {
		return nil
	}

	var segs []segment
	var buf []string
	var bufChapter, bufSection string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		segs = append(segs, segment{
			content: strings.Join(buf, " "),
			page:    pageNum,
			chapter: bufChapter,
			section: bufSection,
		})
	}

	seedOverlap := func() {
		if len(buf) == 0 {
			return
		}
		overlapN := s.cfg.MinOverlapSentences
		ratio := int(math.Ceil(float64(len(buf)) * s.cfg.OverlapRatio))
		if ratio > overlapN {
			overlapN = ratio
		}
		if overlapN > len(buf) {
			overlapN = len(buf)
		}
		buf = append([]string(nil), buf[len(buf)-overlapN:]...)
	}

	bufText := func() string { return strings.Join(buf, " ") }

	for idx, sent := range sentences {
		nextTokens := s.estimateTokens(sent)
		curTokens := s.estimateTokens(bufText())

		if len(buf) > 0 && curTokens+nextTokens >= s.cfg.MaxTokens {
			flush()
			seedOverlap()
		}

		buf = append(buf, sent)
		bufChapter = chapters[idx]
		bufSection = sections[idx]

		curTokens = s.estimateTokens(bufText())
		if curTokens >= s.cfg.TargetTokens && curTokens >= s.cfg.MinTokens {
			flush()
			seedOverlap()
		}
	}

	flush()
	return segs
}

// mergeSmallTrailingSegment folds a final undersized buffer into the
// previous chunk, or keeps it standalone if it is the only chunk.
func (s *Service) mergeSmallTrailingSegment(segs []segment) []segment {
	if len(segs) < 2 {
		return segs
	}
	last := segs[len(segs)-1]
	if s.estimateTokens(last.content) >= s.cfg.MinTokens {
		return segs
	}
	prev := segs[len(segs)-2]
	merged := segment{
		content: prev.content + " " + last.content,
		page:    prev.page,
		chapter: prev.chapter,
		section: prev.section,
	}
	out := append([]segment(nil), segs[:len(segs)-2]...)
	out = append(out, merged)
	return out
}

// headerMergePass merges adjacent chunks when shouldMerge holds: the
// leading one ends with a header marker or has unbalanced quotes or
// brackets, or the next one starts with a lowercase letter.
func (s *Service) headerMergePass(segs []segment) []segment {
	if !s.cfg.MergeEnabled || len(segs) < 2 {
		return segs
	}

	out := make([]segment, 0, len(segs))
	i := 0
	for i < len(segs) {
		cur := segs[i]
		for i+1 < len(segs) {
			next := segs[i+1]
			combined := s.estimateTokens(cur.content + " " + next.content)
			if combined > s.cfg.MaxMergedTokens {
				break
			}
			if !shouldMerge(cur.content, next.content) {
				break
			}
			cur = segment{
				content: cur.content + " " + next.content,
				page:    cur.page,
				chapter: cur.chapter,
				section: cur.section,
			}
			i++
		}
		out = append(out, cur)
		i++
	}
	return out
}

func shouldMerge(first, second string) bool {
	if endsWithHeaderMarker(first) {
		return true
	}
	if startsLowercase(second) {
		return true
	}
	if hasUnbalancedQuotesOrBrackets(first) {
		return true
	}
	return false
}

func endsWithHeaderMarker(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range headerMarkers {
		if strings.HasSuffix(lower, marker) {
			return true
		}
	}
	return false
}

func startsLowercase(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)[0]
	return unicode.IsLower(r)
}

var quotePairs = [][2]rune{{'«', '»'}}
var plainQuote = '"'
var bracketPairs = [][2]rune{{'(', ')'}, {'[', ']'}, {'{', '}'}}

func hasUnbalancedQuotesOrBrackets(text string) bool {
	if strings.Count(text, string(plainQuote))%2 != 0 {
		return true
	}
	for _, pair := range quotePairs {
		if strings.Count(text, string(pair[0])) != strings.Count(text, string(pair[1])) {
			return true
		}
	}
	for _, pair := range bracketPairs {
		if strings.Count(text, string(pair[0])) != strings.Count(text, string(pair[1])) {
			return true
		}
	}
	return false
}

var (
	errEmptyText = fmt.Errorf("chunker: text is empty")
	errNoContent = fmt.Errorf("chunker: no content after splitting")
)
