package ai

import (
	"context"
	"math"
	"sort"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure HashingSparseEncoder implements SparseEncoder
var _ driven.SparseEncoder = (*HashingSparseEncoder)(nil)

// HashingSparseEncoder maps terms to FNV-1a indices weighted by 1+log(tf).
// Corpus IDF is applied by the index (Qdrant's idf modifier), so the encoder
// needs no vocabulary and query and document vectors share one space.
type HashingSparseEncoder struct{}

// NewHashingSparseEncoder creates a sparse encoder
func NewHashingSparseEncoder() *HashingSparseEncoder {
	return &HashingSparseEncoder{}
}

// EncodeSparse returns one sparse vector per text, indices ascending
func (e *HashingSparseEncoder) EncodeSparse(ctx context.Context, texts []string) ([]domain.SparseVector, error) {
	out := make([]domain.SparseVector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = encodeTerms(terms(text))
	}
	return out, nil
}

func encodeTerms(tokens []string) domain.SparseVector {
	tf := make(map[uint32]int, len(tokens))
	for _, t := range tokens {
		tf[hashTerm(t)]++
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1 + math.Log(float64(tf[idx])))
	}
	return domain.SparseVector{Indices: indices, Values: values}
}
