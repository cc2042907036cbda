package dense

import (
	"context"
	"errors"
	"testing"

	"github.com/normex/ragbox-normex/internal/apperr"
	"github.com/normex/ragbox-normex/internal/model"
	"github.com/normex/ragbox-normex/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeSearcher struct {
	hits []vectorstore.SearchHit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.SearchHit, error) {
	return f.hits, f.err
}

func TestSearch_TagsDenseType(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	store := &fakeSearcher{hits: []vectorstore.SearchHit{
		{ID: 1, Score: 0.9, Payload: model.VectorPoint{ChunkID: "c1"}},
	}}
	r := NewRetriever(emb, store)

	results, err := r.Search(context.Background(), "query", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.SearchDense, results[0].SearchType)
	assert.Equal(t, 1, results[0].Rank)
}

func TestSearch_EmbedFailureIsUpstream(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: errors.New("boom")}, &fakeSearcher{})
	_, err := r.Search(context.Background(), "q", 5, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Upstream))
}
