package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockDocumentStore implements DocumentStore
var _ driven.DocumentStore = (*MockDocumentStore)(nil)

// MockDocumentStore is a mock implementation of DocumentStore for testing
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.DocumentRecord // key: tenant/source_file

	SaveErr error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.DocumentRecord),
	}
}

func docKey(tenantID, sourceFile string) string {
	return tenantID + "/" + sourceFile
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.DocumentRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.documents[docKey(doc.TenantID, doc.SourceFile)] = &cp
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, tenantID, sourceFile string) (*domain.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[docKey(tenantID, sourceFile)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MockDocumentStore) List(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DocumentRecord
	for _, doc := range m.documents {
		if doc.TenantID == tenantID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceFile < out[j].SourceFile })
	return out, nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, tenantID, sourceFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(tenantID, sourceFile)
	if _, ok := m.documents[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.documents, key)
	return nil
}
