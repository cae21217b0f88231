package domain

import "sync"

// RuntimeConfig tracks which backends and capabilities are live.
// Backends are fixed at startup; capability flags change as warm-up and health checks run.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	IndexBackend  string // "qdrant" or "memory"
	MemoryBackend string // "redis" or "memory"

	embeddingAvailable  bool
	generationAvailable bool
	rerankerAvailable   bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(indexBackend, memoryBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		IndexBackend:  indexBackend,
		MemoryBackend: memoryBackend,
	}
}

// EmbeddingAvailable returns whether the embedding capability is warm
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// GenerationAvailable returns whether the generation capability is warm
func (c *RuntimeConfig) GenerationAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationAvailable
}

// RerankerAvailable returns whether the relevance scorer is warm
func (c *RuntimeConfig) RerankerAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rerankerAvailable
}

// SetEmbeddingAvailable updates the embedding availability flag
func (c *RuntimeConfig) SetEmbeddingAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingAvailable = available
}

// SetGenerationAvailable updates the generation availability flag
func (c *RuntimeConfig) SetGenerationAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generationAvailable = available
}

// SetRerankerAvailable updates the reranker availability flag
func (c *RuntimeConfig) SetRerankerAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rerankerAvailable = available
}

// Ready returns true when the chat path can serve requests
func (c *RuntimeConfig) Ready() bool {
	return c.EmbeddingAvailable() && c.GenerationAvailable()
}
