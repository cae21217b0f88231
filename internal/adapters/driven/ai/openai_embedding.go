package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure OpenAIEmbedding implements DenseEmbedder
var _ driven.DenseEmbedder = (*OpenAIEmbedding)(nil)

const (
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultOllamaBaseURL  = "http://localhost:11434/v1"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedding implements DenseEmbedder against any OpenAI-compatible
// embeddings endpoint (OpenAI, Ollama, vLLM, TEI).
type OpenAIEmbedding struct {
	client     *openai.Client
	model      string
	baseURL    string
	dimensions int
	// requestDims is sent to the API only for models that support shortening
	requestDims int
}

// NewOpenAIEmbedding creates a dense embedder from settings.
// An API key is required only when talking to api.openai.com.
func NewOpenAIEmbedding(settings *domain.EmbeddingSettings) (*OpenAIEmbedding, error) {
	if settings == nil {
		return nil, fmt.Errorf("embedding settings are required")
	}

	model := strings.TrimSpace(settings.Model)
	if model == "" {
		model = defaultEmbeddingModel
	}

	baseURL := strings.TrimRight(settings.BaseURL, "/")
	if baseURL == "" {
		if settings.Provider == domain.AIProviderOllama {
			baseURL = defaultOllamaBaseURL
		} else {
			baseURL = defaultOpenAIBaseURL
		}
	}
	if baseURL == defaultOpenAIBaseURL && settings.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	dimensions, known := openAIModelDimensions[model]
	requestDims := 0
	if settings.Dimensions > 0 {
		if known && strings.HasPrefix(model, "text-embedding-3") && settings.Dimensions != dimensions {
			requestDims = settings.Dimensions
		}
		dimensions = settings.Dimensions
	} else if !known {
		// Default to 1536 for unknown models
		dimensions = 1536
	}

	cfg := openai.DefaultConfig(settings.APIKey)
	cfg.BaseURL = baseURL

	return &OpenAIEmbedding{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		baseURL:     baseURL,
		dimensions:  dimensions,
		requestDims: requestDims,
	}, nil
}

// Embed generates embeddings for multiple texts, preserving input order
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.requestDims,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		if len(data.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(data.Embedding), e.dimensions)
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name
func (e *OpenAIEmbedding) Model() string {
	return e.model
}

// HealthCheck verifies the embedding service is available
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"health check"})
	return err
}

// Close releases resources
func (e *OpenAIEmbedding) Close() error {
	return nil
}
