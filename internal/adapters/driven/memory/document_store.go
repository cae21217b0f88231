package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.DocumentStore = (*DocumentStore)(nil)

type docKey struct{ tenant, file string }

// DocumentStore is an in-process document registry
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[docKey]domain.DocumentRecord
}

// NewDocumentStore creates an empty registry
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[docKey]domain.DocumentRecord)}
}

func (s *DocumentStore) Save(ctx context.Context, doc *domain.DocumentRecord) error {
	rec := *doc
	rec.Roles = append([]int(nil), doc.Roles...)
	s.mu.Lock()
	s.docs[docKey{doc.TenantID, doc.SourceFile}] = rec
	s.mu.Unlock()
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, tenantID, sourceFile string) (*domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[docKey{tenantID, sourceFile}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *DocumentStore) List(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.DocumentRecord, 0)
	for k, rec := range s.docs {
		if k.tenant == tenantID {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceFile < out[j].SourceFile })
	return out, nil
}

func (s *DocumentStore) Delete(ctx context.Context, tenantID, sourceFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{tenantID, sourceFile}
	if _, ok := s.docs[k]; !ok {
		return domain.ErrNotFound
	}
	delete(s.docs, k)
	return nil
}
