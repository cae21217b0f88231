package ai

import (
	"fmt"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates AI capabilities based on configuration
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateDenseEmbedder creates a dense embedder from settings
func (f *Factory) CreateDenseEmbedder(settings *domain.EmbeddingSettings) (driven.DenseEmbedder, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI, domain.AIProviderOllama:
		emb, err := NewOpenAIEmbedding(settings)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case domain.AIProviderLocal:
		emb, err := NewHashingEmbedder(settings.Dimensions)
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}

// CreateLLM creates a generation and rewriting client from settings
func (f *Factory) CreateLLM(settings *domain.LLMSettings) (driven.LLM, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI, domain.AIProviderOllama:
		llm, err := NewOpenAILLM(settings)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}

// CreateScorer creates the remote cross-encoder scorer when a base URL is
// configured and the local lexical scorer otherwise
func (f *Factory) CreateScorer(settings *domain.RerankSettings) (driven.RelevanceScorer, error) {
	if settings == nil || !settings.IsRemote() {
		return NewLexicalScorer(), nil
	}
	scorer, err := NewHTTPScorer(settings)
	if err != nil {
		return nil, err
	}
	return scorer, nil
}

// CreateSparseEncoder creates the lexical sparse encoder
func (f *Factory) CreateSparseEncoder() driven.SparseEncoder {
	return NewHashingSparseEncoder()
}
