package rerank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/normex/ragbox-normex/internal/generation"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("no more responses")
}

func result(id string, score float64) model.SearchResult {
	return model.SearchResult{Chunk: model.Chunk{ChunkID: id}, Score: score}
}

func TestRerank_PrimarySucceeds(t *testing.T) {
	client := &fakeClient{responses: []string{"0.2\n0.9\n0.5"}}
	r := NewReranker(client)

	candidates := []model.SearchResult{result("a", 1), result("b", 1), result("c", 1)}
	out := r.Rerank(context.Background(), "query", candidates, 3)

	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Chunk.ChunkID)
	assert.Equal(t, "primary", out[0].RerankMethod)
	assert.Equal(t, 1, out[0].Rank)
}

func TestRerank_PrimaryFailsFallsBackToSecondary(t *testing.T) {
	client := &fakeClient{
		errs:      []error{errors.New("boom"), nil, nil},
		responses: []string{"", "8", "3"},
	}
	r := NewReranker(client)

	candidates := []model.SearchResult{result("a", 1), result("b", 1)}
	out := r.Rerank(context.Background(), "query", candidates, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ChunkID)
	assert.Equal(t, "secondary", out[0].RerankMethod)
}

func TestRerank_BothFailReturnsPreRerankTopKMarkedFallback(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	r := NewReranker(client)

	candidates := []model.SearchResult{result("a", 1), result("b", 1)}
	out := r.Rerank(context.Background(), "query", candidates, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ChunkID)
	assert.Equal(t, "b", out[1].Chunk.ChunkID)
	assert.Equal(t, "fallback", out[0].RerankMethod)
}

func TestRerank_EmptyInput(t *testing.T) {
	r := NewReranker(&fakeClient{})
	out := r.Rerank(context.Background(), "query", nil, 5)
	assert.Empty(t, out)
}

func TestRerank_BatchesAtTen(t *testing.T) {
	responses := []string{
		strings.Repeat("0.5\n", 10),
		"0.9\n0.1",
	}
	client := &fakeClient{responses: responses}
	r := NewReranker(client)

	candidates := make([]model.SearchResult, 12)
	for i := range candidates {
		candidates[i] = result(string(rune('a'+i)), 1)
	}
	out := r.Rerank(context.Background(), "query", candidates, 12)

	require.Len(t, out, 12)
	assert.Equal(t, 2, client.calls)
}

func TestParseScores_ScalesTenPointToUnit(t *testing.T) {
	scores := parseScores("8", 1)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.8, scores[0], 1e-9)
}

func TestParseScores_ClampsAboveOne(t *testing.T) {
	scores := parseScores("15", 1)
	require.Len(t, scores, 1)
	assert.Equal(t, 1.0, scores[0])
}

func TestParseScores_PadsMissing(t *testing.T) {
	scores := parseScores("0.3", 3)
	require.Len(t, scores, 3)
	assert.InDelta(t, 0.3, scores[0], 1e-9)
	assert.InDelta(t, 0.5, scores[1], 1e-9)
}

func TestParseScores_NoNumbersReturnsNil(t *testing.T) {
	assert.Nil(t, parseScores("не могу оценить", 1))
}
