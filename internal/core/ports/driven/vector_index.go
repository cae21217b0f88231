package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// VectorIndex stores chunk points and answers scoped hybrid queries.
// Every read and write is scoped by tenant; reads are also scoped by role.
// Scope filtering happens inside the store, never on returned results.
type VectorIndex interface {
	// EnsureSchema creates the dense and sparse vector fields and the
	// tenant_id, src_file and accessed_role payload indexes if absent. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Upsert writes one batch of points. A failure fails the whole batch.
	Upsert(ctx context.Context, points []domain.Point) error

	// Delete removes all points of a (tenant, file) pair
	Delete(ctx context.Context, tenantID, sourceFile string) error

	// DeleteFrom removes the points of a (tenant, file) pair whose ordinal is >= fromOrdinal
	DeleteFrom(ctx context.Context, tenantID, sourceFile string, fromOrdinal int) error

	// HybridSearch runs dense and sparse prefetch queries filtered by scope,
	// fuses them with reciprocal rank fusion and returns at most opts.Limit candidates.
	HybridSearch(ctx context.Context, query domain.Vectors, scope domain.Scope, opts domain.SearchOptions) ([]domain.Candidate, error)

	// Optimize switches the index from bulk-write mode to read-optimized mode.
	// Called once after a bulk ingest completes.
	Optimize(ctx context.Context) error

	// Count returns the number of points in the index
	Count(ctx context.Context) (int64, error)

	// HealthCheck verifies the index is reachable
	HealthCheck(ctx context.Context) error
}
