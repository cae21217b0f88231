package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Generator produces the answer text for a grounded request
type Generator interface {
	// Generate returns the raw model output, expected to be a JSON object
	// of the form {question, answer, citation}
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)

	// Model returns the model name being used
	Model() string

	// Ping verifies the service is available
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// QueryRewriter turns a follow-up question into a standalone one
type QueryRewriter interface {
	// RewriteQuery returns the raw rewriter output for query given history.
	// The output is JSON {"rewrite": bool, "query": string}.
	RewriteQuery(ctx context.Context, query string, history []domain.Turn) (string, error)
}

// RelevanceScorer scores texts against a query, cross-encoder style
type RelevanceScorer interface {
	// Score returns one relevance score per text in order. Higher is more relevant.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)

	// HealthCheck verifies the scorer is available
	HealthCheck(ctx context.Context) error

	// Close releases resources
	Close() error
}
