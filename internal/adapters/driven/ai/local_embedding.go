package ai

import (
	"context"
	"fmt"
	"math"

	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure HashingEmbedder implements DenseEmbedder
var _ driven.DenseEmbedder = (*HashingEmbedder)(nil)

// HashingEmbedder is an in-process dense embedder for the local profile.
// Terms and term bigrams are hashed into a fixed number of buckets and the
// result is L2-normalized. It has no semantic knowledge beyond lexical overlap.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder creates a local embedder with the given dimension
func NewHashingEmbedder(dimensions int) (*HashingEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &HashingEmbedder{dimensions: dimensions}, nil
}

// Embed hashes each text into a normalized vector
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(terms(text))
	}
	return out, nil
}

func (e *HashingEmbedder) vector(tokens []string) []float32 {
	v := make([]float32, e.dimensions)
	add := func(feature string, weight float32) {
		h := hashTerm(feature)
		sign := float32(1)
		if h&1 == 1 {
			sign = -1
		}
		v[(h>>1)%uint32(e.dimensions)] += sign * weight
	}
	for i, t := range tokens {
		add(t, 1)
		if i > 0 {
			add(tokens[i-1]+" "+t, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Dimensions returns the vector size
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model name
func (e *HashingEmbedder) Model() string {
	return "local-hashing"
}

// HealthCheck always succeeds
func (e *HashingEmbedder) HealthCheck(context.Context) error {
	return nil
}

// Close releases resources
func (e *HashingEmbedder) Close() error {
	return nil
}
