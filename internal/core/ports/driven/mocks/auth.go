package mocks

import (
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.AuthAdapter = (*MockAuthAdapter)(nil)

// MockAuthAdapter hands out opaque tokens backed by an in-memory claims
// table. Admin keys are stored and compared in plain text.
type MockAuthAdapter struct {
	mu     sync.Mutex
	seq    int
	issued map[string]domain.TokenClaims
}

// NewMockAuthAdapter creates an adapter with no issued tokens
func NewMockAuthAdapter() *MockAuthAdapter {
	return &MockAuthAdapter{issued: make(map[string]domain.TokenClaims)}
}

func (m *MockAuthAdapter) HashKey(key string) (string, error) {
	return key, nil
}

func (m *MockAuthAdapter) VerifyKey(key, hash string) bool {
	return key != "" && key == hash
}

// GenerateToken records claims under a fresh token
func (m *MockAuthAdapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil || claims.TenantID == "" {
		return "", domain.ErrTokenInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	token := fmt.Sprintf("test-token-%d", m.seq)
	m.issued[token] = *claims
	return token, nil
}

// ParseToken returns a copy of the claims recorded for token. Tokens whose
// ExpiresAt has passed are rejected.
func (m *MockAuthAdapter) ParseToken(token string) (*domain.TokenClaims, error) {
	m.mu.Lock()
	claims, ok := m.issued[token]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	if claims.ExpiresAt != 0 && time.Now().Unix() >= claims.ExpiresAt {
		return nil, domain.ErrTokenInvalid
	}
	return &claims, nil
}

// Revoke forgets token
func (m *MockAuthAdapter) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.issued, token)
}
