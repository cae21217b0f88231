package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore on the documents table
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Save creates or replaces the row of (tenant, source_file)
func (s *DocumentStore) Save(ctx context.Context, doc *domain.DocumentRecord) error {
	ingestedAt := doc.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO documents (tenant_id, source_file, roles, chunk_count, ingested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, source_file) DO UPDATE SET
			roles = EXCLUDED.roles,
			chunk_count = EXCLUDED.chunk_count,
			ingested_at = EXCLUDED.ingested_at
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.TenantID,
		doc.SourceFile,
		pq.Array(toInt64(doc.Roles)),
		doc.ChunkCount,
		ingestedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// Get retrieves one record
func (s *DocumentStore) Get(ctx context.Context, tenantID, sourceFile string) (*domain.DocumentRecord, error) {
	query := `
		SELECT tenant_id, source_file, roles, chunk_count, ingested_at
		FROM documents
		WHERE tenant_id = $1 AND source_file = $2
	`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, tenantID, sourceFile))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// List returns the tenant's records ordered by source_file
func (s *DocumentStore) List(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error) {
	query := `
		SELECT tenant_id, source_file, roles, chunk_count, ingested_at
		FROM documents
		WHERE tenant_id = $1
		ORDER BY source_file
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.DocumentRecord, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes one record
func (s *DocumentStore) Delete(ctx context.Context, tenantID, sourceFile string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND source_file = $2`,
		tenantID, sourceFile)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.DocumentRecord, error) {
	var (
		doc   domain.DocumentRecord
		roles []int64
	)
	if err := row.Scan(&doc.TenantID, &doc.SourceFile, pq.Array(&roles), &doc.ChunkCount, &doc.IngestedAt); err != nil {
		return nil, err
	}
	doc.Roles = make([]int, len(roles))
	for i, r := range roles {
		doc.Roles[i] = int(r)
	}
	return &doc, nil
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
