package driven

import "github.com/custodia-labs/sercha-rag/internal/core/domain"

// AuthAdapter issues and verifies bearer tokens and admin keys
type AuthAdapter interface {
	// GenerateToken creates a signed token from claims
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// ParseToken validates a token and extracts its claims
	ParseToken(token string) (*domain.TokenClaims, error)

	// HashKey generates a hash of an admin API key
	HashKey(key string) (string, error)

	// VerifyKey checks if a key matches a stored hash
	VerifyKey(key, hash string) bool
}

// AIServiceFactory creates model capabilities from settings
type AIServiceFactory interface {
	// CreateDenseEmbedder returns nil, nil if settings are not configured
	CreateDenseEmbedder(settings *domain.EmbeddingSettings) (DenseEmbedder, error)

	// CreateLLM returns a client that serves both generation and query rewriting.
	// Returns nil, nil if settings are not configured.
	CreateLLM(settings *domain.LLMSettings) (LLM, error)

	// CreateScorer returns the relevance scorer for the settings
	CreateScorer(settings *domain.RerankSettings) (RelevanceScorer, error)
}

// LLM is a language model client used for generation and rewriting
type LLM interface {
	Generator
	QueryRewriter
}
