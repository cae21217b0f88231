package services

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Timeouts bounds every call the pipeline makes to an external capability.
// A zero value disables the bound for that call.
type Timeouts struct {
	Embed    time.Duration
	Rerank   time.Duration
	Generate time.Duration
	Rewrite  time.Duration
	Store    time.Duration
	Memory   time.Duration
}

// DefaultTimeouts returns the standard bounds
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Embed:    30 * time.Second,
		Rerank:   15 * time.Second,
		Generate: 120 * time.Second,
		Rewrite:  20 * time.Second,
		Store:    15 * time.Second,
		Memory:   3 * time.Second,
	}
}

// callWithTimeout runs fn under a deadline of d. A deadline hit by this bound
// becomes an UpstreamTimeoutError; cancellation of the parent is returned as is.
func callWithTimeout[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if d > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	v, err := fn(callCtx)
	if err == nil {
		return v, nil
	}

	var zero T
	if ctx.Err() == context.Canceled {
		return zero, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return zero, domain.NewUpstreamTimeout(op, err)
	}
	return zero, err
}

// runWithTimeout is callWithTimeout for calls without a result
func runWithTimeout(ctx context.Context, op string, d time.Duration, fn func(context.Context) error) error {
	_, err := callWithTimeout(ctx, op, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
