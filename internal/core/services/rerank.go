package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// DefaultRerankTopK is the number of candidates kept after reranking
const DefaultRerankTopK = 5

// ErrRerankFallback accompanies a result in fused order when the scorer
// failed. It is not fatal to the caller.
var ErrRerankFallback = errors.New("rerank unavailable, fused order kept")

// Reranker reorders fused candidates with a relevance scorer
type Reranker struct {
	caps    *runtime.Capabilities
	timeout time.Duration
	logger  *zap.Logger
}

// NewReranker creates a reranker over the registered scorer
func NewReranker(caps *runtime.Capabilities, timeout time.Duration, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{caps: caps, timeout: timeout, logger: logger}
}

// Rerank drops candidates with empty content, scores the rest against query,
// sorts them stably by score and keeps topK.
//
// Without a registered scorer the fused order is kept. A scorer timeout is
// returned as an UpstreamTimeoutError and cancellation as is. Any other scorer
// failure returns the fused order together with ErrRerankFallback.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.Candidate, topK int) ([]domain.Candidate, error) {
	if topK <= 0 {
		topK = DefaultRerankTopK
	}

	kept := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c.Chunk.Content) != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return []domain.Candidate{}, nil
	}

	scorer := r.caps.Scorer()
	if scorer == nil {
		return truncate(kept, topK), nil
	}

	texts := make([]string, len(kept))
	for i, c := range kept {
		texts[i] = c.Chunk.Content
	}

	scores, err := callWithTimeout(ctx, "rerank", r.timeout, func(ctx context.Context) ([]float64, error) {
		return scorer.Score(ctx, query, texts)
	})
	if err == nil && len(scores) != len(kept) {
		err = fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(kept))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrUpstreamTimeout) {
			return nil, err
		}
		r.logger.Warn("rerank failed, keeping fused order", zap.Int("candidates", len(kept)), zap.Error(err))
		return truncate(kept, topK), fmt.Errorf("%w: %v", ErrRerankFallback, err)
	}

	for i := range kept {
		kept[i].Score = scores[i]
		kept[i].Source = domain.RankRerank
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return truncate(kept, topK), nil
}

func truncate(candidates []domain.Candidate, k int) []domain.Candidate {
	if len(candidates) > k {
		return candidates[:k]
	}
	return candidates
}
