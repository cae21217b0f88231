package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Ensure ingestService implements IngestService
var _ driving.IngestService = (*ingestService)(nil)

// Chunker splits document text into chunk records
type Chunker interface {
	Split(ctx context.Context, text, tenantID, sourceFile string, roles []int) ([]domain.ChunkRecord, error)
}

// IngestConfig tunes document ingestion
type IngestConfig struct {
	// BatchSize bounds chunks per embed and upsert call
	BatchSize int
	// Concurrency bounds documents processed at once by IngestBatch
	Concurrency int
	// LockTTL bounds how long one writer may hold a document lock between batches
	LockTTL time.Duration
}

// DefaultIngestConfig returns the standard ingest settings
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BatchSize:   DefaultEmbedBatchSize,
		Concurrency: 4,
		LockTTL:     10 * time.Minute,
	}
}

// ingestService implements the IngestService interface
type ingestService struct {
	chunker   Chunker
	gateway   *EmbeddingGateway
	index     driven.VectorIndex
	documents driven.DocumentStore
	lock      driven.DocumentLock
	config    IngestConfig
	timeouts  Timeouts
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	chunker Chunker,
	gateway *EmbeddingGateway,
	index driven.VectorIndex,
	documents driven.DocumentStore,
	lock driven.DocumentLock,
	cfg IngestConfig,
	timeouts Timeouts,
	logger *zap.Logger,
) driving.IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultIngestConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	return &ingestService{
		chunker:   chunker,
		gateway:   gateway,
		index:     index,
		documents: documents,
		lock:      lock,
		config:    cfg,
		timeouts:  timeouts,
		logger:    logger,
	}
}

// ProcessDocument chunks, embeds and indexes one document and optimizes the index.
func (s *ingestService) ProcessDocument(ctx context.Context, doc domain.DocumentInput) (int, error) {
	if err := doc.Validate(); err != nil {
		return 0, err
	}
	count, err := s.ingest(ctx, doc)
	if err != nil {
		return 0, err
	}
	if err := s.Optimize(ctx); err != nil {
		s.logger.Warn("optimize after ingest failed", zap.String("tenant_id", doc.TenantID), zap.Error(err))
	}
	return count, nil
}

// ingest writes one document without optimizing. The document lock is held
// for the whole write so two writers never interleave batches.
func (s *ingestService) ingest(ctx context.Context, doc domain.DocumentInput) (int, error) {
	logger := s.logger.With(
		zap.String("tenant_id", doc.TenantID),
		zap.String("source_file", doc.SourceFile),
	)
	start := time.Now()

	name := driven.DocumentLockName(doc.TenantID, doc.SourceFile)
	acquired, err := s.lock.Acquire(ctx, name, s.config.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire document lock: %w", err)
	}
	if !acquired {
		return 0, fmt.Errorf("document %s is being ingested: %w", doc.SourceFile, domain.ErrLockNotAcquired)
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			logger.Warn("failed to release document lock", zap.Error(err))
		}
	}()

	chunks, err := s.chunker.Split(ctx, doc.Text, doc.TenantID, doc.SourceFile, doc.Roles)
	if err != nil {
		return 0, err
	}

	for begin := 0; begin < len(chunks); begin += s.config.BatchSize {
		end := begin + s.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.writeBatch(ctx, chunks[begin:end]); err != nil {
			return 0, domain.NewIndexInconsistency("ingest",
				fmt.Sprintf("tenant %s: batch [%d,%d) of %d chunks not indexed", doc.TenantID, begin, end, len(chunks)), err)
		}
		if end < len(chunks) {
			if err := s.lock.Extend(ctx, name, s.config.LockTTL); err != nil {
				logger.Warn("failed to extend document lock", zap.Error(err))
			}
		}
	}

	// A shorter re-ingest leaves stale points past the new last ordinal.
	if err := runWithTimeout(ctx, "delete", s.timeouts.Store, func(ctx context.Context) error {
		return s.index.DeleteFrom(ctx, doc.TenantID, doc.SourceFile, len(chunks))
	}); err != nil {
		return 0, domain.NewIndexInconsistency("ingest",
			fmt.Sprintf("tenant %s: stale points from ordinal %d not removed", doc.TenantID, len(chunks)), err)
	}

	record := &domain.DocumentRecord{
		TenantID:   doc.TenantID,
		SourceFile: doc.SourceFile,
		Roles:      doc.Roles,
		ChunkCount: len(chunks),
		IngestedAt: time.Now().UTC(),
	}
	if err := runWithTimeout(ctx, "registry", s.timeouts.Store, func(ctx context.Context) error {
		return s.documents.Save(ctx, record)
	}); err != nil {
		return 0, fmt.Errorf("save document record: %w", err)
	}

	logger.Info("document ingested",
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)),
	)
	return len(chunks), nil
}

func (s *ingestService) writeBatch(ctx context.Context, chunks []domain.ChunkRecord) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := s.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]domain.Point, len(chunks))
	for i := range chunks {
		points[i] = domain.NewPoint(chunks[i], vectors[i])
	}
	return runWithTimeout(ctx, "upsert", s.timeouts.Store, func(ctx context.Context) error {
		return s.index.Upsert(ctx, points)
	})
}

// IngestBatch ingests independent documents concurrently and optimizes once.
// All inputs are validated before any is processed.
func (s *ingestService) IngestBatch(ctx context.Context, docs []domain.DocumentInput) (map[string]int, error) {
	seen := make(map[string]bool, len(docs))
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return nil, err
		}
		key := docs[i].TenantID + "\x00" + docs[i].SourceFile
		if seen[key] {
			return nil, domain.NewValidationError("ingest", "source_file %q appears more than once", docs[i].SourceFile)
		}
		seen[key] = true
	}

	var mu sync.Mutex
	counts := make(map[string]int, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, doc := range docs {
		g.Go(func() error {
			n, err := s.ingest(gctx, doc)
			if err != nil {
				return fmt.Errorf("%s: %w", doc.SourceFile, err)
			}
			mu.Lock()
			counts[doc.SourceFile] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}

	if err := s.Optimize(ctx); err != nil {
		return counts, fmt.Errorf("optimize: %w", err)
	}
	return counts, nil
}

// DeleteDocument removes a document's points and its registry record
func (s *ingestService) DeleteDocument(ctx context.Context, tenantID, sourceFile string) error {
	if tenantID == "" {
		return domain.NewScopeViolation("delete", "tenant_id is required")
	}
	if sourceFile == "" {
		return domain.NewValidationError("delete", "source_file is required")
	}

	if err := runWithTimeout(ctx, "delete", s.timeouts.Store, func(ctx context.Context) error {
		return s.index.Delete(ctx, tenantID, sourceFile)
	}); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	if err := runWithTimeout(ctx, "registry", s.timeouts.Store, func(ctx context.Context) error {
		return s.documents.Delete(ctx, tenantID, sourceFile)
	}); err != nil {
		return err
	}

	s.logger.Info("document deleted", zap.String("tenant_id", tenantID), zap.String("source_file", sourceFile))
	return nil
}

// ListDocuments returns the registry records of a tenant
func (s *ingestService) ListDocuments(ctx context.Context, tenantID string) ([]*domain.DocumentRecord, error) {
	if tenantID == "" {
		return nil, domain.NewScopeViolation("list", "tenant_id is required")
	}
	return callWithTimeout(ctx, "registry", s.timeouts.Store, func(ctx context.Context) ([]*domain.DocumentRecord, error) {
		return s.documents.List(ctx, tenantID)
	})
}

// Optimize switches the index to read-optimized mode
func (s *ingestService) Optimize(ctx context.Context) error {
	return runWithTimeout(ctx, "optimize", s.timeouts.Store, func(ctx context.Context) error {
		return s.index.Optimize(ctx)
	})
}
