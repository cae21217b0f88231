package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/chunking"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func pointIDs(points []domain.Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}

func TestProcessDocument_IndexesChunks(t *testing.T) {
	p := newPipeline(t)

	n := p.mustIngest(t, "acme", "handbook.md", policyDocument("leave", "travel", "security"), 1, 2)

	require.Greater(t, n, 1)
	points := p.index.Points("acme", "handbook.md")
	require.Len(t, points, n)
	for i, pt := range points {
		assert.Equal(t, i, pt.Payload.Ordinal)
		assert.Equal(t, domain.PointID("acme", "handbook.md", i), pt.ID)
		assert.Equal(t, []int{1, 2}, pt.Payload.AccessedRoles)
		assert.NotEmpty(t, strings.TrimSpace(pt.Payload.Content))
		assert.Len(t, pt.Vectors.Dense, p.embedder.Dimensions())
		assert.NotZero(t, pt.Vectors.Sparse.Len())
	}

	record, err := p.documents.Get(context.Background(), "acme", "handbook.md")
	require.NoError(t, err)
	assert.Equal(t, n, record.ChunkCount)
	assert.Equal(t, 1, p.index.OptimizeCalls())
	assert.Equal(t, []string{"ingest:acme:handbook.md"}, p.lock.History())
	assert.False(t, p.lock.Held("ingest:acme:handbook.md"))
}

func TestProcessDocument_Idempotent(t *testing.T) {
	p := newPipeline(t)
	doc := policyDocument("leave", "travel")

	first := p.mustIngest(t, "acme", "handbook.md", doc, 1)
	before := p.index.Points("acme", "handbook.md")
	second := p.mustIngest(t, "acme", "handbook.md", doc, 1)
	after := p.index.Points("acme", "handbook.md")

	assert.Equal(t, first, second)
	assert.Equal(t, pointIDs(before), pointIDs(after))
	count, err := p.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(first), count)
}

func TestProcessDocument_ShrinkRemovesStaleTail(t *testing.T) {
	p := newPipeline(t)

	long := p.mustIngest(t, "acme", "handbook.md", policyDocument("leave", "travel", "security", "expenses"), 1)
	short := p.mustIngest(t, "acme", "handbook.md", policyDocument("leave"), 1)

	require.Less(t, short, long)
	assert.Len(t, p.index.Points("acme", "handbook.md"), short)
}

func TestProcessDocument_BatchesSequentially(t *testing.T) {
	cfg := chunking.DefaultConfig()
	cfg.MinTokens, cfg.IdealTokens, cfg.MaxTokens, cfg.HardCap, cfg.Overlap = 20, 40, 60, 80, 5
	p := newPipeline(t, withBatchSize(2), withChunking(cfg))

	n := p.mustIngest(t, "acme", "handbook.md", policyDocument("leave", "travel"), 1)

	require.Greater(t, n, 2)
	batches := p.index.Batches()
	assert.Len(t, batches, (n+1)/2)
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 2)
	}
}

func TestProcessDocument_BatchFailureIsIndexInconsistency(t *testing.T) {
	cfg := chunking.DefaultConfig()
	cfg.MinTokens, cfg.IdealTokens, cfg.MaxTokens, cfg.HardCap, cfg.Overlap = 20, 40, 60, 80, 5
	p := newPipeline(t, withBatchSize(2), withChunking(cfg))
	p.index.UpsertFn = func(batch int, _ []domain.Point) error {
		if batch == 1 {
			return errors.New("collection unavailable")
		}
		return nil
	}

	_, err := p.ingest.ProcessDocument(context.Background(), domain.DocumentInput{
		Text: policyDocument("leave", "travel"), TenantID: "acme", SourceFile: "handbook.md", Roles: []int{1},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexInconsistency)
	assert.Contains(t, err.Error(), "batch [2,4)")
	assert.Contains(t, err.Error(), "acme")
	assert.NotContains(t, err.Error(), "policy rule")
	assert.Zero(t, p.index.OptimizeCalls())
	assert.False(t, p.lock.Held("ingest:acme:handbook.md"))

	_, err = p.documents.Get(context.Background(), "acme", "handbook.md")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// re-running recovers because IDs are deterministic
	p.index.UpsertFn = nil
	n := p.mustIngest(t, "acme", "handbook.md", policyDocument("leave", "travel"), 1)
	assert.Len(t, p.index.Points("acme", "handbook.md"), n)
}

func TestProcessDocument_ValidationBeforeExternalCalls(t *testing.T) {
	tests := []struct {
		name string
		doc  domain.DocumentInput
		want error
	}{
		{"missing tenant", domain.DocumentInput{Text: "x", SourceFile: "a.md", Roles: []int{1}}, domain.ErrScopeViolation},
		{"missing roles", domain.DocumentInput{Text: "x", TenantID: "acme", SourceFile: "a.md"}, domain.ErrScopeViolation},
		{"bad role", domain.DocumentInput{Text: "x", TenantID: "acme", SourceFile: "a.md", Roles: []int{0}}, domain.ErrValidation},
		{"missing source", domain.DocumentInput{Text: "x", TenantID: "acme", Roles: []int{1}}, domain.ErrValidation},
		{"invalid utf-8", domain.DocumentInput{Text: "bad \xff byte", TenantID: "acme", SourceFile: "a.md", Roles: []int{1}}, domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)

			_, err := p.ingest.ProcessDocument(context.Background(), tt.doc)

			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, p.embedder.Calls())
			assert.Empty(t, p.index.Batches())
		})
	}
}

func TestProcessDocument_LockHeld(t *testing.T) {
	p := newPipeline(t)
	p.lock.Hold("ingest:acme:handbook.md", time.Minute)

	_, err := p.ingest.ProcessDocument(context.Background(), domain.DocumentInput{
		Text: "text", TenantID: "acme", SourceFile: "handbook.md", Roles: []int{1},
	})

	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
	assert.Zero(t, p.embedder.Calls())
}

func TestProcessDocument_EmptyTextClearsDocument(t *testing.T) {
	p := newPipeline(t)
	p.mustIngest(t, "acme", "handbook.md", policyDocument("leave"), 1)

	n := p.mustIngest(t, "acme", "handbook.md", "   \n\n  ", 1)

	assert.Zero(t, n)
	assert.Empty(t, p.index.Points("acme", "handbook.md"))
}

func TestIngestBatch(t *testing.T) {
	p := newPipeline(t)
	var inflight, peak int32
	p.embedder.EmbedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
		cur := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, float32(i)}
		}
		return out, nil
	}

	var docs []domain.DocumentInput
	for i := 0; i < 5; i++ {
		docs = append(docs, domain.DocumentInput{
			Text:       policyDocument("leave", "travel"),
			TenantID:   "acme",
			SourceFile: fmt.Sprintf("doc-%d.md", i),
			Roles:      []int{1},
		})
	}

	counts, err := p.ingest.IngestBatch(context.Background(), docs)

	require.NoError(t, err)
	require.Len(t, counts, 5)
	for _, d := range docs {
		assert.Len(t, p.index.Points("acme", d.SourceFile), counts[d.SourceFile])
	}
	assert.Equal(t, 1, p.index.OptimizeCalls())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestIngestBatch_RejectsBeforeProcessing(t *testing.T) {
	p := newPipeline(t)
	doc := domain.DocumentInput{Text: "x", TenantID: "acme", SourceFile: "a.md", Roles: []int{1}}

	_, err := p.ingest.IngestBatch(context.Background(), []domain.DocumentInput{doc, doc})
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := doc
	bad.TenantID = ""
	_, err = p.ingest.IngestBatch(context.Background(), []domain.DocumentInput{doc, bad})
	assert.ErrorIs(t, err, domain.ErrScopeViolation)

	assert.Zero(t, p.embedder.Calls())
	assert.Zero(t, p.index.OptimizeCalls())
}

func TestDeleteDocument(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.mustIngest(t, "acme", "handbook.md", policyDocument("leave"), 1)
	p.mustIngest(t, "globex", "handbook.md", policyDocument("leave"), 1)

	require.NoError(t, p.ingest.DeleteDocument(ctx, "acme", "handbook.md"))

	assert.Empty(t, p.index.Points("acme", "handbook.md"))
	assert.NotEmpty(t, p.index.Points("globex", "handbook.md"))

	docs, err := p.ingest.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = p.ingest.ListDocuments(ctx, "globex")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "handbook.md", docs[0].SourceFile)

	assert.ErrorIs(t, p.ingest.DeleteDocument(ctx, "acme", "handbook.md"), domain.ErrNotFound)
	assert.ErrorIs(t, p.ingest.DeleteDocument(ctx, "", "handbook.md"), domain.ErrScopeViolation)
	_, err = p.ingest.ListDocuments(ctx, "")
	assert.ErrorIs(t, err, domain.ErrScopeViolation)
}
