package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.DocumentLock = (*MockDocumentLock)(nil)

// MockDocumentLock tracks document locks in memory and records every
// successful acquisition. Set Err to make every call fail.
type MockDocumentLock struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	history []string

	Err error
}

// NewMockDocumentLock creates an empty lock table
func NewMockDocumentLock() *MockDocumentLock {
	return &MockDocumentLock{expiry: make(map[string]time.Time)}
}

func (m *MockDocumentLock) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.heldLocked(name) {
		return false, nil
	}
	m.expiry[name] = time.Now().Add(ttl)
	m.history = append(m.history, name)
	return true, nil
}

func (m *MockDocumentLock) Release(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.expiry, name)
	return nil
}

func (m *MockDocumentLock) Extend(_ context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if !m.heldLocked(name) {
		return domain.ErrLockNotAcquired
	}
	m.expiry[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDocumentLock) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// Hold marks name as taken by another writer for ttl
func (m *MockDocumentLock) Hold(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[name] = time.Now().Add(ttl)
}

// Held reports whether name is currently locked
func (m *MockDocumentLock) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(name)
}

// History lists acquired lock names in order
func (m *MockDocumentLock) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

func (m *MockDocumentLock) heldLocked(name string) bool {
	exp, ok := m.expiry[name]
	return ok && time.Now().Before(exp)
}
