package corpuscache

import (
	"context"
	"testing"

	"github.com/normex/ragbox-normex/internal/model"
)

type fakeSource struct {
	calls  int
	chunks []model.Chunk
}

func (f *fakeSource) GetAllChunks(_ context.Context) ([]model.Chunk, error) {
	f.calls++
	return f.chunks, nil
}

func TestCache_TrainsOnceAcrossSearches(t *testing.T) {
	src := &fakeSource{chunks: []model.Chunk{
		{ChunkID: "1", Content: "требования пожарной безопасности зданий"},
		{ChunkID: "2", Content: "порядок проведения технического освидетельствования"},
	}}
	c := New(src)

	if _, err := c.Search("пожарной безопасности", nil, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := c.Search("освидетельствования", nil, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected corpus fetched once, got %d calls", src.calls)
	}
}

func TestCache_FlushRetrains(t *testing.T) {
	src := &fakeSource{chunks: []model.Chunk{{ChunkID: "1", Content: "требования"}}}
	c := New(src)

	if _, err := c.Search("требования", nil, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	c.Flush()
	if _, err := c.Search("требования", nil, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected retrain after flush, got %d calls", src.calls)
	}
}

func TestCache_LookupAndAllIDs(t *testing.T) {
	src := &fakeSource{chunks: []model.Chunk{
		{ChunkID: "a", Content: "текст один про нормативные требования"},
		{ChunkID: "b", Content: "текст два про порядок процедуры"},
	}}
	c := New(src)
	_, _ = c.Search("текст", nil, 5)

	if _, ok := c.Lookup("a"); !ok {
		t.Fatal("expected chunk a to be resolvable")
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("expected missing chunk id to be absent")
	}
	if ids := c.AllIDs(); len(ids) != 2 {
		t.Fatalf("AllIDs length = %d, want 2", len(ids))
	}
}
