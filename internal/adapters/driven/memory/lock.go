package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.DocumentLock = (*Lock)(nil)

// Lock is a process-local DocumentLock with expiring entries
type Lock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLock creates an empty lock table
func NewLock() *Lock {
	return &Lock{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes name unless a live entry exists
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, domain.NewValidationError("lock", "ttl must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[name]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

// Release frees name
func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
	return nil
}

// Extend moves the expiry of a live entry
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	exp, ok := l.held[name]
	if !ok || !now.Before(exp) {
		return fmt.Errorf("extend lock %s: %w", name, domain.ErrLockNotAcquired)
	}
	l.held[name] = now.Add(ttl)
	return nil
}

// Ping always succeeds
func (l *Lock) Ping(ctx context.Context) error {
	return nil
}
