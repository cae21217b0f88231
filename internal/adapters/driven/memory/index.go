// Package memory holds in-process implementations of the driven ports.
// They back the single-binary local mode and the CLI when no Redis,
// Postgres or Qdrant is configured. State is lost on exit.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
)

var _ driven.VectorIndex = (*Index)(nil)

// Index is a brute-force hybrid index. Points are filtered by scope before
// either ranking runs, then the dense and sparse rankings are fused with RRF.
type Index struct {
	mu     sync.RWMutex
	points map[string]domain.Point
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{points: make(map[string]domain.Point)}
}

// EnsureSchema is a no-op
func (x *Index) EnsureSchema(ctx context.Context) error {
	return nil
}

// Upsert writes the batch; it fails as a whole if any point has no tenant
func (x *Index) Upsert(ctx context.Context, points []domain.Point) error {
	for _, p := range points {
		if p.Payload.TenantID == "" {
			return domain.NewScopeViolation("index.upsert", "point without tenant_id")
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range points {
		x.points[p.ID] = p
	}
	return nil
}

// Delete removes every point of the document
func (x *Index) Delete(ctx context.Context, tenantID, sourceFile string) error {
	return x.DeleteFrom(ctx, tenantID, sourceFile, 0)
}

// DeleteFrom removes the document's points with ordinal >= fromOrdinal
func (x *Index) DeleteFrom(ctx context.Context, tenantID, sourceFile string, fromOrdinal int) error {
	if tenantID == "" {
		return domain.NewScopeViolation("index.delete", "tenant_id is required")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, p := range x.points {
		if p.Payload.TenantID == tenantID && p.Payload.SourceFile == sourceFile && p.Payload.Ordinal >= fromOrdinal {
			delete(x.points, id)
		}
	}
	return nil
}

type scored struct {
	id    string
	score float64
}

// HybridSearch ranks the in-scope points by cosine similarity and by sparse
// dot product, keeps PrefetchLimit of each and fuses the two lists.
func (x *Index) HybridSearch(ctx context.Context, query domain.Vectors, scope domain.Scope, opts domain.SearchOptions) ([]domain.Candidate, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		return []domain.Candidate{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var dense, sparse []scored
	for id, p := range x.points {
		if p.Payload.TenantID != scope.TenantID || !p.Payload.HasRole(scope.Role) {
			continue
		}
		if len(query.Dense) > 0 {
			dense = append(dense, scored{id, cosine(query.Dense, p.Vectors.Dense)})
		}
		if query.Sparse.Len() > 0 {
			if s := dot(query.Sparse, p.Vectors.Sparse); s > 0 {
				sparse = append(sparse, scored{id, s})
			}
		}
	}

	prefetch := opts.PrefetchLimit()
	fused := services.FuseRRF(opts.RRFConstant, topIDs(dense, prefetch), topIDs(sparse, prefetch))
	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}

	out := make([]domain.Candidate, len(fused))
	for i, f := range fused {
		p := x.points[f.ID]
		out[i] = domain.Candidate{ID: f.ID, Chunk: p.Payload, Score: f.Score, Source: domain.RankFused}
	}
	return out, nil
}

func topIDs(list []scored, n int) []string {
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].id < list[j].id
	})
	if len(list) > n {
		list = list[:n]
	}
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.id
	}
	return ids
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func dot(a, b domain.SparseVector) float64 {
	weights := make(map[uint32]float32, len(b.Indices))
	for i, idx := range b.Indices {
		weights[idx] = b.Values[i]
	}
	var sum float64
	for i, idx := range a.Indices {
		sum += float64(a.Values[i]) * float64(weights[idx])
	}
	return sum
}

// Optimize is a no-op; the brute-force scan has nothing to rebuild.
func (x *Index) Optimize(ctx context.Context) error {
	return nil
}

// Count returns the number of points
func (x *Index) Count(ctx context.Context) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.points)), nil
}

// HealthCheck always succeeds
func (x *Index) HealthCheck(ctx context.Context) error {
	return nil
}
