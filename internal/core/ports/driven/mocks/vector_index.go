package mocks

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockVectorIndex implements VectorIndex
var _ driven.VectorIndex = (*MockVectorIndex)(nil)

// MockVectorIndex is an in-memory VectorIndex for testing.
// Search filters by scope before ranking by dense cosine similarity.
type MockVectorIndex struct {
	mu       sync.RWMutex
	points   map[string]domain.Point
	batches  [][]string
	scopes   []domain.Scope
	optimize int

	// UpsertFn is consulted before each batch is written; an error fails the batch
	UpsertFn func(batch int, points []domain.Point) error
	// SearchFn overrides HybridSearch when set
	SearchFn func(ctx context.Context, query domain.Vectors, scope domain.Scope, opts domain.SearchOptions) ([]domain.Candidate, error)
}

// NewMockVectorIndex creates a new MockVectorIndex
func NewMockVectorIndex() *MockVectorIndex {
	return &MockVectorIndex{
		points: make(map[string]domain.Point),
	}
}

func (m *MockVectorIndex) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MockVectorIndex) Upsert(ctx context.Context, points []domain.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpsertFn != nil {
		if err := m.UpsertFn(len(m.batches), points); err != nil {
			m.batches = append(m.batches, nil)
			return err
		}
	}
	ids := make([]string, len(points))
	for i, p := range points {
		m.points[p.ID] = p
		ids[i] = p.ID
	}
	m.batches = append(m.batches, ids)
	return nil
}

func (m *MockVectorIndex) Delete(ctx context.Context, tenantID, sourceFile string) error {
	return m.DeleteFrom(ctx, tenantID, sourceFile, 0)
}

func (m *MockVectorIndex) DeleteFrom(ctx context.Context, tenantID, sourceFile string, fromOrdinal int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.Payload.TenantID == tenantID && p.Payload.SourceFile == sourceFile && p.Payload.Ordinal >= fromOrdinal {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MockVectorIndex) HybridSearch(ctx context.Context, query domain.Vectors, scope domain.Scope, opts domain.SearchOptions) ([]domain.Candidate, error) {
	m.mu.Lock()
	m.scopes = append(m.scopes, scope)
	fn := m.SearchFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query, scope, opts)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Candidate
	for _, p := range m.points {
		if p.Payload.TenantID != scope.TenantID || !p.Payload.HasRole(scope.Role) {
			continue
		}
		out = append(out, domain.Candidate{
			ID:     p.ID,
			Chunk:  p.Payload,
			Score:  cosine(query.Dense, p.Vectors.Dense),
			Source: domain.RankFused,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MockVectorIndex) Optimize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimize++
	return nil
}

func (m *MockVectorIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

func (m *MockVectorIndex) HealthCheck(ctx context.Context) error {
	return nil
}

// Points returns the stored points of a (tenant, file) pair ordered by ordinal
func (m *MockVectorIndex) Points(tenantID, sourceFile string) []domain.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Point
	for _, p := range m.points {
		if p.Payload.TenantID == tenantID && p.Payload.SourceFile == sourceFile {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payload.Ordinal < out[j].Payload.Ordinal })
	return out
}

// Batches returns the point IDs of every upsert call; failed batches are nil
func (m *MockVectorIndex) Batches() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]string(nil), m.batches...)
}

// Scopes returns the scope of every search in order
func (m *MockVectorIndex) Scopes() []domain.Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Scope(nil), m.scopes...)
}

// OptimizeCalls returns the number of Optimize calls
func (m *MockVectorIndex) OptimizeCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.optimize
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
