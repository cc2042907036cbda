package cache

import (
	"testing"
	"time"

	"github.com/normex/ragbox-normex/internal/model"
)

func makeContext(docName string) model.StructuredContext {
	return model.StructuredContext{
		Query: "what is the fire rating requirement?",
		Context: []model.ContextCandidate{
			{Chunk: model.Chunk{ChunkID: "chunk-1", DocumentTitle: docName, Content: "test content"}, Score: 0.9},
		},
		TotalCandidates: 20,
		AvgScore:        0.85,
	}
}

func TestContextCache_GetSet(t *testing.T) {
	c := New(1 * time.Hour)
	defer c.Stop()

	_, ok := c.Get("what is the fire rating requirement?")
	if ok {
		t.Fatal("expected cache miss on empty cache")
	}

	result := makeContext("sp-123.pdf")
	c.Set("what is the fire rating requirement?", result)

	got, ok := c.Get("what is the fire rating requirement?")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got.Context) != 1 || got.Context[0].Chunk.DocumentTitle != "sp-123.pdf" {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestContextCache_QueryIsolation(t *testing.T) {
	c := New(1 * time.Hour)
	defer c.Stop()

	c.Set("query-a", makeContext("a.pdf"))

	_, ok := c.Get("query-b")
	if ok {
		t.Fatal("unrelated query should not see query-a's cache")
	}
}

func TestContextCache_Expiry(t *testing.T) {
	c := New(50 * time.Millisecond)
	defer c.Stop()

	c.Set("query", makeContext("test.pdf"))

	_, ok := c.Get("query")
	if !ok {
		t.Fatal("expected cache hit before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	_, ok = c.Get("query")
	if ok {
		t.Fatal("expected cache miss after expiry")
	}
}

func TestContextCache_Len(t *testing.T) {
	c := New(1 * time.Hour)
	defer c.Stop()

	if c.Len() != 0 {
		t.Fatal("expected empty cache")
	}

	c.Set("q1", makeContext("a.pdf"))
	c.Set("q2", makeContext("b.pdf"))

	if c.Len() != 2 {
		t.Fatalf("expected 2, got %d", c.Len())
	}
}

func TestContextCacheKey_Deterministic(t *testing.T) {
	k1 := contextCacheKey("hello world")
	k2 := contextCacheKey("hello world")
	if k1 != k2 {
		t.Fatalf("cache key should be deterministic: %s != %s", k1, k2)
	}

	k3 := contextCacheKey("different query")
	if k1 == k3 {
		t.Fatal("different query text should produce different key")
	}
}
