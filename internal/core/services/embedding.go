package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// DefaultEmbedBatchSize bounds the number of texts per embedding call
const DefaultEmbedBatchSize = 128

// GatewayConfig tunes the embedding gateway
type GatewayConfig struct {
	// BatchSize bounds texts per dense call
	BatchSize int
	// RPS limits outbound dense calls per second; zero disables the limit
	RPS float64
	// Timeout bounds each dense call
	Timeout time.Duration
}

// EmbeddingGateway produces dense and sparse vectors for queries and chunks.
// Capabilities are read from the registry on every call.
type EmbeddingGateway struct {
	caps      *runtime.Capabilities
	limiter   *rate.Limiter
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEmbeddingGateway creates a gateway over the registered capabilities
func NewEmbeddingGateway(caps *runtime.Capabilities, cfg GatewayConfig, logger *zap.Logger) *EmbeddingGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &EmbeddingGateway{
		caps:      caps,
		limiter:   limiter,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// BatchSize returns the maximum number of texts per call
func (g *EmbeddingGateway) BatchSize() int {
	return g.batchSize
}

// EmbedQuery produces the vectors of a single query
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, text string) (domain.Vectors, error) {
	vectors, err := g.embed(ctx, []string{text})
	if err != nil {
		return domain.Vectors{}, err
	}
	return vectors[0], nil
}

// EmbedBatch produces vectors for texts in order, in sequential batches of at most BatchSize
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vectors, error) {
	out := make([]domain.Vectors, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := g.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d,%d): %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Embed produces dense vectors only. It lets the gateway serve as the
// chunking engine's sentence embedder.
func (g *EmbeddingGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		dense, err := g.dense(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, dense...)
	}
	return out, nil
}

func (g *EmbeddingGateway) embed(ctx context.Context, texts []string) ([]domain.Vectors, error) {
	dense, err := g.dense(ctx, texts)
	if err != nil {
		return nil, err
	}

	encoder := g.caps.SparseEncoder()
	if encoder == nil {
		return nil, fmt.Errorf("sparse encoder: %w", domain.ErrServiceUnavailable)
	}
	sparse, err := encoder.EncodeSparse(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("sparse encode: %w", err)
	}
	if len(sparse) != len(texts) {
		return nil, fmt.Errorf("sparse encoder returned %d vectors for %d texts", len(sparse), len(texts))
	}

	out := make([]domain.Vectors, len(texts))
	for i := range texts {
		out[i] = domain.Vectors{Dense: dense[i], Sparse: sparse[i]}
	}
	return out, nil
}

func (g *EmbeddingGateway) dense(ctx context.Context, texts []string) ([][]float32, error) {
	embedder := g.caps.Embedder()
	if embedder == nil {
		return nil, fmt.Errorf("dense embedder: %w", domain.ErrServiceUnavailable)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	dense, err := callWithTimeout(ctx, "embed", g.timeout, func(ctx context.Context) ([][]float32, error) {
		return embedder.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(dense) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(dense), len(texts))
	}
	return dense, nil
}

// WarmUp runs one query through the full embedding path
func (g *EmbeddingGateway) WarmUp(ctx context.Context) error {
	start := time.Now()
	if _, err := g.EmbedQuery(ctx, "warm up"); err != nil {
		return fmt.Errorf("embedding warm-up: %w", err)
	}
	g.logger.Info("embedding gateway warm", zap.Duration("took", time.Since(start)))
	return nil
}

// Close releases gateway resources. Capabilities are closed by the registry.
func (g *EmbeddingGateway) Close() error {
	return nil
}
