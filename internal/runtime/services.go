package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Lifecycle is a component that needs warming up at startup and closing at shutdown.
type Lifecycle interface {
	WarmUp(ctx context.Context) error
	Close() error
}

type registration struct {
	name      string
	lifecycle Lifecycle
}

// Capabilities holds the model capabilities used by the pipeline.
// Capabilities are built once at startup and injected here; services read
// them on every call so a capability replaced at runtime takes effect at once.
// Thread-safe for concurrent access.
type Capabilities struct {
	mu sync.RWMutex

	// Config tracks capability flags
	config *domain.RuntimeConfig
	logger *zap.Logger

	embedder driven.DenseEmbedder
	sparse   driven.SparseEncoder
	llm      driven.LLM
	scorer   driven.RelevanceScorer

	registered []registration
}

// NewCapabilities creates an empty capability registry
func NewCapabilities(config *domain.RuntimeConfig, logger *zap.Logger) *Capabilities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capabilities{
		config: config,
		logger: logger,
	}
}

// Config returns the runtime configuration
func (c *Capabilities) Config() *domain.RuntimeConfig {
	return c.config
}

// Embedder returns the dense embedder (may be nil)
func (c *Capabilities) Embedder() driven.DenseEmbedder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embedder
}

// SparseEncoder returns the sparse encoder (may be nil)
func (c *Capabilities) SparseEncoder() driven.SparseEncoder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sparse
}

// LLM returns the generation and rewriting client (may be nil)
func (c *Capabilities) LLM() driven.LLM {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.llm
}

// Scorer returns the relevance scorer (may be nil)
func (c *Capabilities) Scorer() driven.RelevanceScorer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scorer
}

// SetEmbedder replaces the dense embedder, closing the old one.
// Availability is only set by WarmUp.
func (c *Capabilities) SetEmbedder(e driven.DenseEmbedder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	c.embedder = e
	c.config.SetEmbeddingAvailable(false)
}

// SetSparseEncoder replaces the sparse encoder
func (c *Capabilities) SetSparseEncoder(s driven.SparseEncoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sparse = s
}

// SetLLM replaces the LLM client, closing the old one
func (c *Capabilities) SetLLM(l driven.LLM) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.llm != nil {
		_ = c.llm.Close()
	}
	c.llm = l
	c.config.SetGenerationAvailable(false)
}

// SetScorer replaces the relevance scorer, closing the old one
func (c *Capabilities) SetScorer(s driven.RelevanceScorer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scorer != nil {
		_ = c.scorer.Close()
	}
	c.scorer = s
	c.config.SetRerankerAvailable(false)
}

// Register adds a component to warm up after the capabilities and to close on shutdown
func (c *Capabilities) Register(name string, lc Lifecycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, registration{name: name, lifecycle: lc})
}

// WarmUp health-checks every capability and then warms registered components.
// Availability flags reflect the outcome. Every failure is returned joined.
func (c *Capabilities) WarmUp(ctx context.Context) error {
	embedder, llm, scorer := c.Embedder(), c.LLM(), c.Scorer()

	var errs []error
	check := func(name string, present bool, fn func() error, set func(bool)) {
		if !present {
			set(false)
			errs = append(errs, fmt.Errorf("%s: %w", name, domain.ErrServiceUnavailable))
			return
		}
		if err := fn(); err != nil {
			set(false)
			c.logger.Warn("capability warm-up failed", zap.String("capability", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		set(true)
		c.logger.Info("capability ready", zap.String("capability", name))
	}

	check("embedding", embedder != nil, func() error { return embedder.HealthCheck(ctx) }, c.config.SetEmbeddingAvailable)
	check("generation", llm != nil, func() error { return llm.Ping(ctx) }, c.config.SetGenerationAvailable)
	check("reranker", scorer != nil, func() error { return scorer.HealthCheck(ctx) }, c.config.SetRerankerAvailable)

	c.mu.RLock()
	registered := append([]registration(nil), c.registered...)
	c.mu.RUnlock()
	for _, r := range registered {
		if err := r.lifecycle.WarmUp(ctx); err != nil {
			c.logger.Warn("component warm-up failed", zap.String("component", r.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}

	return errors.Join(errs...)
}

// Close shuts down registered components in reverse order, then all capabilities
func (c *Capabilities) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.registered) - 1; i >= 0; i-- {
		if err := c.registered[i].lifecycle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.registered[i].name, err))
		}
	}
	c.registered = nil

	if c.embedder != nil {
		errs = append(errs, c.embedder.Close())
		c.embedder = nil
	}
	if c.llm != nil {
		errs = append(errs, c.llm.Close())
		c.llm = nil
	}
	if c.scorer != nil {
		errs = append(errs, c.scorer.Close())
		c.scorer = nil
	}
	c.sparse = nil

	c.config.SetEmbeddingAvailable(false)
	c.config.SetGenerationAvailable(false)
	c.config.SetRerankerAvailable(false)

	return errors.Join(errs...)
}
