// Package embedding wraps the external Embed(text) capability: batching,
// dimension validation, and L2-normalization. Grounded on
// internal/service/embedder.go EmbedderService.
package embedding

import (
	"context"
	"math"

	"github.com/normex/ragbox-normex/internal/apperr"
)

const maxBatchSize = 250

// Client abstracts the external embedding service for testability.
// Implementations call out to an HTTP-addressable Embed(text) capability.
type Client interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Service generates L2-normalized, dimension-checked vector embeddings.
type Service struct {
	client Client
	dim    int
}

// NewService creates a Service expecting vectors of the given dimension.
func NewService(client Client, dim int) *Service {
	if dim <= 0 {
		dim = 1024
	}
	return &Service{client: client, dim: dim}
}

// Embed generates one unit-norm vector per input text, batching calls to
// the backing service at maxBatchSize. Input length may be truncated by
// the backing service; callers must not assume lossless embedding of
// arbitrarily long inputs.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.Embed"
	if len(texts) == 0 {
		return nil, apperr.New(op, apperr.InputInvalid, errEmpty)
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := s.client.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, apperr.New(op, apperr.Transient, err)
		}
		if len(vectors) != len(batch) {
			return nil, apperr.New(op, apperr.Upstream, errCount)
		}

		for j, vec := range vectors {
			if len(vec) != s.dim {
				return nil, apperr.New(op, apperr.Upstream, errDim)
			}
			vectors[j] = l2Normalize(vec)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedOne is a convenience wrapper for a single text (the common query path).
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

var (
	errEmpty = errString("embedding: no texts provided")
	errCount = errString("embedding: vector count does not match text count")
	errDim   = errString("embedding: vector has wrong dimensionality")
)

type errString string

func (e errString) Error() string { return string(e) }
