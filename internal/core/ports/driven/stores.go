package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// ConversationStore holds bounded per-(tenant, user) conversation logs.
// Append must apply the bound atomically; a concurrent reader never sees an over-length log.
type ConversationStore interface {
	// Append adds turns to the end of the log, trims it to MaxMessages and refreshes the TTL
	Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) error

	// Range returns the most recent limit turns, oldest first
	Range(ctx context.Context, key domain.ConversationKey, limit int) ([]domain.Turn, error)

	// Clear removes the log
	Clear(ctx context.Context, key domain.ConversationKey) error

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
}

// DocumentStore is the registry of ingested documents
type DocumentStore interface {
	// Save creates or replaces the record for (tenant, source_file)
	Save(ctx context.Context, doc *domain.DocumentRecord) error

	// Get retrieves a record. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, tenantID, sourceFile string) (*domain.DocumentRecord, error)

	// List returns all records of a tenant ordered by source_file
	List(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error)

	// Delete removes a record. Returns domain.ErrNotFound if absent.
	Delete(ctx context.Context, tenantID, sourceFile string) error
}

// IngestQueue carries ingest jobs from the API to workers
type IngestQueue interface {
	// Enqueue adds a job for processing
	Enqueue(ctx context.Context, job *domain.IngestJob) error

	// DequeueWithTimeout retrieves the next job, waiting up to timeout seconds.
	// Returns nil, nil if no job arrived in time.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestJob, error)

	// Ack marks a job completed with its chunk count
	Ack(ctx context.Context, jobID string, chunkCount int) error

	// Nack marks a job failed; it is rescheduled while retries remain
	Nack(ctx context.Context, jobID string, reason string) error

	// GetJob retrieves a job by ID. Returns domain.ErrNotFound if unknown.
	GetJob(ctx context.Context, jobID string) (*domain.IngestJob, error)

	// Pending returns the number of jobs waiting or scheduled
	Pending(ctx context.Context) (int64, error)

	// Ping checks if the queue backend is healthy
	Ping(ctx context.Context) error

	// Close cleans up resources
	Close() error
}
