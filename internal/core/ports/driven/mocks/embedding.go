package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var (
	_ driven.DenseEmbedder = (*MockDenseEmbedder)(nil)
	_ driven.SparseEncoder = (*MockSparseEncoder)(nil)
)

// MockDenseEmbedder is a deterministic DenseEmbedder for testing.
// Each lowercased word is hashed to one bucket, so texts sharing words have
// high cosine similarity.
type MockDenseEmbedder struct {
	mu         sync.Mutex
	dimensions int
	model      string
	calls      int
	batchSizes []int

	// EmbedFn overrides the default behaviour when set
	EmbedFn   func(ctx context.Context, texts []string) ([][]float32, error)
	HealthErr error
}

// NewMockDenseEmbedder creates a new MockDenseEmbedder
func NewMockDenseEmbedder() *MockDenseEmbedder {
	return &MockDenseEmbedder{
		dimensions: 64,
		model:      "mock-embedding-model",
	}
}

func (m *MockDenseEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.batchSizes = append(m.batchSizes, len(texts))
	fn := m.EmbedFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.generateEmbedding(text)
	}
	return result, nil
}

func (m *MockDenseEmbedder) Dimensions() int {
	return m.dimensions
}

func (m *MockDenseEmbedder) Model() string {
	return m.model
}

func (m *MockDenseEmbedder) HealthCheck(ctx context.Context) error {
	return m.HealthErr
}

func (m *MockDenseEmbedder) Close() error {
	return nil
}

// generateEmbedding hashes each word into a bucket and normalizes the result
func (m *MockDenseEmbedder) generateEmbedding(text string) []float32 {
	embedding := make([]float32, m.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		embedding[h.Sum32()%uint32(m.dimensions)]++
	}
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= inv
		}
	}
	return embedding
}

// Calls returns the number of Embed calls
func (m *MockDenseEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BatchSizes returns the size of every Embed call in order
func (m *MockDenseEmbedder) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// MockSparseEncoder is a deterministic SparseEncoder for testing
type MockSparseEncoder struct {
	EncodeErr error
}

// NewMockSparseEncoder creates a new MockSparseEncoder
func NewMockSparseEncoder() *MockSparseEncoder {
	return &MockSparseEncoder{}
}

func (m *MockSparseEncoder) EncodeSparse(ctx context.Context, texts []string) ([]domain.SparseVector, error) {
	if m.EncodeErr != nil {
		return nil, m.EncodeErr
	}
	out := make([]domain.SparseVector, len(texts))
	for i, text := range texts {
		counts := make(map[uint32]float32)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
			counts[h.Sum32()]++
		}
		indices := make([]uint32, 0, len(counts))
		for idx := range counts {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
		values := make([]float32, len(indices))
		for j, idx := range indices {
			values[j] = counts[idx]
		}
		out[i] = domain.SparseVector{Indices: indices, Values: values}
	}
	return out, nil
}
