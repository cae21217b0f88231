package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// DenseEmbedder generates fixed-dimension semantic embeddings
type DenseEmbedder interface {
	// Embed generates embeddings for multiple texts, one vector per text in order
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// Model returns the model name being used
	Model() string

	// HealthCheck verifies the embedding service is available
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the embedding service
	Close() error
}

// SparseEncoder generates weighted term vectors for lexical matching
type SparseEncoder interface {
	// EncodeSparse returns one sparse vector per text in order
	EncodeSparse(ctx context.Context, texts []string) ([]domain.SparseVector, error)
}
