package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func candidateIDs(candidates []domain.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ID
	}
	return out
}

func TestRerank_EmptyInput(t *testing.T) {
	p := newPipeline(t)

	got, err := p.reranker.Rerank(context.Background(), "leave", nil, 5)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, p.scorer.Calls())
}

func TestRerank_OrdersByScoreAndTruncates(t *testing.T) {
	p := newPipeline(t)
	candidates := []domain.Candidate{
		candidate("a", "travel expenses", 0.9),
		candidate("b", "annual leave days for employees", 0.8),
		candidate("c", "leave", 0.7),
		candidate("d", "   ", 0.6),
	}

	got, err := p.reranker.Rerank(context.Background(), "annual leave days", candidates, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, candidateIDs(got))
	assert.Equal(t, domain.RankRerank, got[0].Source)
	assert.Equal(t, 3.0, got[0].Score)
}

func TestRerank_StableForEqualScores(t *testing.T) {
	p := newPipeline(t)
	p.scorer.ScoreFn = func(_ context.Context, _ string, texts []string) ([]float64, error) {
		return make([]float64, len(texts)), nil
	}
	candidates := []domain.Candidate{
		candidate("c3", "three", 0.9),
		candidate("c1", "one", 0.8),
		candidate("c2", "two", 0.7),
	}

	for i := 0; i < 10; i++ {
		in := append([]domain.Candidate(nil), candidates...)
		got, err := p.reranker.Rerank(context.Background(), "q", in, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"c3", "c1", "c2"}, candidateIDs(got))
	}
}

func TestRerank_ScorerFailureKeepsFusedOrder(t *testing.T) {
	p := newPipeline(t)
	p.scorer.ScoreFn = func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("reranker unavailable")
	}
	candidates := []domain.Candidate{
		candidate("a", "first", 0.9),
		candidate("b", "", 0.8),
		candidate("c", "second", 0.7),
		candidate("d", "third", 0.6),
	}

	got, err := p.reranker.Rerank(context.Background(), "q", candidates, 2)

	assert.ErrorIs(t, err, ErrRerankFallback)
	assert.Equal(t, []string{"a", "c"}, candidateIDs(got))
	assert.Equal(t, domain.RankFused, got[0].Source)
}

func TestRerank_ScoreCountMismatchKeepsFusedOrder(t *testing.T) {
	p := newPipeline(t)
	p.scorer.ScoreFn = func(context.Context, string, []string) ([]float64, error) {
		return []float64{1}, nil
	}
	candidates := []domain.Candidate{candidate("a", "x", 0.9), candidate("b", "y", 0.8)}

	got, err := p.reranker.Rerank(context.Background(), "q", candidates, 5)

	assert.ErrorIs(t, err, ErrRerankFallback)
	assert.Equal(t, []string{"a", "b"}, candidateIDs(got))
}

func TestRerank_NoScorer(t *testing.T) {
	p := newPipeline(t)
	p.caps.SetScorer(nil)
	candidates := []domain.Candidate{candidate("a", "x", 0.9), candidate("b", "y", 0.8), candidate("c", "z", 0.7)}

	got, err := p.reranker.Rerank(context.Background(), "q", candidates, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, candidateIDs(got))
}

func TestRerank_Timeout(t *testing.T) {
	p := newPipeline(t)
	p.reranker = NewReranker(p.caps, 10*time.Millisecond, nil)
	p.scorer.ScoreFn = func(ctx context.Context, _ string, _ []string) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	candidates := []domain.Candidate{candidate("a", "x", 0.9), candidate("b", "y", 0.8)}

	got, err := p.reranker.Rerank(context.Background(), "q", candidates, 5)

	assert.Nil(t, got)
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable())
	assert.NotErrorIs(t, err, ErrRerankFallback)
}

func TestRerank_Cancelled(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	p.scorer.ScoreFn = func(ctx context.Context, _ string, _ []string) ([]float64, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := p.reranker.Rerank(ctx, "q", []domain.Candidate{candidate("a", "x", 1)}, 5)

	assert.ErrorIs(t, err, context.Canceled)
}
