// Package bm25 implements classical BM25 (k1=1.2, b=0.75) with
// Russian-aware tokenization: lowercase, strip non-word characters,
// split on whitespace, drop short tokens and stop words. Grounded on
// kept as a hand-rolled in-memory engine rather than a
// third-party search library because exact classical BM25 semantics
// (fixed k1/b, IDF formula, post-filter corpus) aren't exposed directly
// by any available Go search library — see DESIGN.md.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/normex/ragbox-normex/internal/apperr"
)

const (
	k1 = 1.2
	b  = 0.75

	minTokenLen = 3 // drop tokens of length <= 2
)

// Document is one corpus entry to be indexed.
type Document struct {
	ID   string
	Text string
}

// Result is one scored, ranked match.
type Result struct {
	ID    string
	Score float64
	Rank  int
}

type docStats struct {
	termFreq map[string]int
	length   int
}

// Engine is a trained, in-memory BM25 index.
type Engine struct {
	docs   map[string]docStats
	df     map[string]int
	idf    map[string]float64
	avgLen float64
	n      int
}

var wordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// russianStopWords is a fixed set of high-frequency Russian function
// words excluded from scoring regardless of length.
var russianStopWords = map[string]struct{}{
	"и": {}, "в": {}, "на": {}, "с": {}, "по": {}, "для": {}, "от": {},
	"к": {}, "из": {}, "не": {}, "но": {}, "а": {}, "что": {}, "как": {},
	"это": {}, "его": {}, "она": {}, "они": {}, "или": {}, "при": {},
	"за": {}, "до": {}, "же": {}, "бы": {}, "то": {}, "так": {}, "все": {},
	"был": {}, "была": {}, "были": {}, "есть": {}, "также": {},
}

// Tokenize lowercases, strips non-word characters, splits on whitespace,
// and drops tokens of length <= 2 or in the stop-word set.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := wordRe.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok == "" {
			continue
		}
		if len([]rune(tok)) <= 2 {
			continue
		}
		if _, stop := russianStopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// NewEngine constructs an untrained Engine; call Fit before Search.
func NewEngine() *Engine {
	return &Engine{docs: make(map[string]docStats), df: make(map[string]int), idf: make(map[string]float64)}
}

// Fit (re)trains the engine over documents: recomputes document
// frequency, IDF, per-document term frequencies, lengths, and the
// corpus average length.
func (e *Engine) Fit(documents []Document) error {
	if len(documents) == 0 {
		return apperr.New("bm25.Fit", apperr.InputInvalid, errNoDocuments)
	}

	docs := make(map[string]docStats, len(documents))
	df := make(map[string]int)
	var totalLen int

	for _, d := range documents {
		tokens := Tokenize(d.Text)
		tf := make(map[string]int, len(tokens))
		seen := make(map[string]struct{})
		for _, tok := range tokens {
			tf[tok]++
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
		docs[d.ID] = docStats{termFreq: tf, length: len(tokens)}
		totalLen += len(tokens)
	}

	n := len(documents)
	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		idf[term] = math.Log((float64(n)-float64(freq)+0.5)/(float64(freq)+0.5) + 1e-12)
	}

	e.docs = docs
	e.df = df
	e.idf = idf
	e.n = n
	e.avgLen = float64(totalLen) / float64(n)
	return nil
}

// Search scores documentIDs (a caller-supplied, already post-filtered
// subset of the trained corpus) against query and returns results sorted
// descending, with zero-score documents filtered out and ranks assigned.
func (e *Engine) Search(query string, documentIDs []string, k int) ([]Result, error) {
	const op = "bm25.Search"
	if e.n == 0 {
		return nil, apperr.New(op, apperr.InputInvalid, errNotFitted)
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	var results []Result
	for _, id := range documentIDs {
		stats, ok := e.docs[id]
		if !ok {
			continue
		}
		score := e.scoreDoc(queryTokens, stats)
		if score <= 0 {
			continue
		}
		results = append(results, Result{ID: id, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func (e *Engine) scoreDoc(queryTokens []string, stats docStats) float64 {
	var score float64
	for _, term := range queryTokens {
		tf, ok := stats.termFreq[term]
		if !ok {
			continue
		}
		idf := e.idf[term]
		numerator := float64(tf) * (k1 + 1)
		denominator := float64(tf) + k1*(1-b+b*float64(stats.length)/e.avgLen)
		score += idf * numerator / denominator
	}
	return score
}

var (
	errNoDocuments = errString("bm25: no documents to fit")
	errNotFitted   = errString("bm25: engine not fitted")
)

type errString string

func (e errString) Error() string { return string(e) }
