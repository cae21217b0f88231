package domain

import "strings"

// AIProvider identifies the model provider behind a capability
type AIProvider string

const (
	// AIProviderOpenAI is api.openai.com or any OpenAI-compatible server (vLLM, TEI, LiteLLM)
	AIProviderOpenAI AIProvider = "openai"
	// AIProviderOllama is a local Ollama server using its OpenAI-compatible /v1 API
	AIProviderOllama AIProvider = "ollama"
	// AIProviderLocal runs the capability in-process without a model server
	AIProviderLocal AIProvider = "local"
)

// EmbeddingSettings configures the dense embedding capability
type EmbeddingSettings struct {
	Provider   AIProvider `json:"provider"`
	Model      string     `json:"model"`
	BaseURL    string     `json:"base_url,omitempty"`
	APIKey     string     `json:"-"`
	Dimensions int        `json:"dimensions"`
}

// IsConfigured reports whether enough is set to build the capability
func (s *EmbeddingSettings) IsConfigured() bool {
	if s.Provider == AIProviderLocal {
		return s.Dimensions > 0
	}
	return s.Provider != "" && strings.TrimSpace(s.Model) != ""
}

// LLMSettings configures generation and query rewriting
type LLMSettings struct {
	Provider    AIProvider `json:"provider"`
	Model       string     `json:"model"`
	BaseURL     string     `json:"base_url,omitempty"`
	APIKey      string     `json:"-"`
	Temperature float32    `json:"temperature"`
}

// IsConfigured reports whether enough is set to build the capability
func (s *LLMSettings) IsConfigured() bool {
	return s.Provider != "" && strings.TrimSpace(s.Model) != ""
}

// RerankSettings configures the relevance scoring capability.
// An empty BaseURL selects the local lexical scorer.
type RerankSettings struct {
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"-"`
}

// IsRemote reports whether a cross-encoder server is configured
func (s *RerankSettings) IsRemote() bool {
	return strings.TrimSpace(s.BaseURL) != ""
}
