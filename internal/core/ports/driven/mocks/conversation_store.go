package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockConversationStore implements ConversationStore
var _ driven.ConversationStore = (*MockConversationStore)(nil)

// MockConversationStore is an in-memory ConversationStore for testing
type MockConversationStore struct {
	mu      sync.Mutex
	policy  domain.MemoryPolicy
	logs    map[string][]domain.Turn
	appends int

	AppendErr error
	RangeErr  error
}

// NewMockConversationStore creates a store bounded by policy
func NewMockConversationStore(policy domain.MemoryPolicy) *MockConversationStore {
	return &MockConversationStore{
		policy: policy,
		logs:   make(map[string][]domain.Turn),
	}
}

func (m *MockConversationStore) Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	log := append(m.logs[key.String()], turns...)
	m.logs[key.String()] = m.policy.Prune(log, time.Now())
	return nil
}

func (m *MockConversationStore) Range(ctx context.Context, key domain.ConversationKey, limit int) ([]domain.Turn, error) {
	if m.RangeErr != nil {
		return nil, m.RangeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.policy.Prune(m.logs[key.String()], time.Now())
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]domain.Turn(nil), log...), nil
}

func (m *MockConversationStore) Clear(ctx context.Context, key domain.ConversationKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, key.String())
	return nil
}

func (m *MockConversationStore) Ping(ctx context.Context) error {
	return nil
}

// Appends returns the number of Append calls that succeeded
func (m *MockConversationStore) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

// Turns returns the stored log of key
func (m *MockConversationStore) Turns(key domain.ConversationKey) []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Turn(nil), m.logs[key.String()]...)
}
