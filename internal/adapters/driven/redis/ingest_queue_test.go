package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func newIngestQueue(t *testing.T) (*IngestQueue, *miniredis.Miniredis) {
	client, mr := setupTestRedis(t)
	q, err := NewIngestQueue(context.Background(), client, "worker-test", nil)
	require.NoError(t, err)
	return q, mr
}

func handbookJob() *domain.IngestJob {
	return domain.NewIngestJob(domain.DocumentInput{
		Text:       "# Handbook\n\nLeave is twelve days.",
		TenantID:   "acme",
		SourceFile: "handbook.md",
		Roles:      []int{1, 2},
	})
}

func TestNewIngestQueue_GroupCreationIsIdempotent(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := NewIngestQueue(ctx, client, "a", nil)
	require.NoError(t, err)
	_, err = NewIngestQueue(ctx, client, "b", nil)
	require.NoError(t, err)

	_, err = NewIngestQueue(ctx, nil, "c", nil)
	assert.Error(t, err)
}

func TestIngestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := newIngestQueue(t)
	ctx := context.Background()
	job := handbookJob()

	require.NoError(t, q.Enqueue(ctx, job))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []int{1, 2}, got.Document.Roles)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, q.Ack(ctx, job.ID, 7))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 7, stored.ChunkCount)
	assert.NotNil(t, stored.CompletedAt)
}

func TestIngestQueue_DequeueEmpty(t *testing.T) {
	q, _ := newIngestQueue(t)

	got, err := q.DequeueWithTimeout(context.Background(), 1)

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIngestQueue_DequeueCancelled(t *testing.T) {
	q, _ := newIngestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := q.DequeueWithTimeout(ctx, 5)

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIngestQueue_NackReschedulesThenFails(t *testing.T) {
	q, mr := newIngestQueue(t)
	ctx := context.Background()
	job := handbookJob()
	job.MaxAttempts = 2
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Nack(ctx, job.ID, "embedding timeout"))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, "embedding timeout", stored.Error)
	assert.True(t, stored.ScheduledFor.After(time.Now()))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// make the retry due
	_, err = mr.ZAdd(scheduledJobs, 0, job.ID)
	require.NoError(t, err)

	got, err = q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, q.Nack(ctx, job.ID, "embedding timeout"))
	stored, err = q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestIngestQueue_DelayedJobWaits(t *testing.T) {
	q, _ := newIngestQueue(t)
	ctx := context.Background()
	job := handbookJob()
	job.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestIngestQueue_SkipsMessagesWithoutJob(t *testing.T) {
	q, mr := newIngestQueue(t)
	ctx := context.Background()
	job := handbookJob()
	require.NoError(t, q.Enqueue(ctx, job))
	mr.Del(jobKey(job.ID))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestIngestQueue_UnknownJob(t *testing.T) {
	q, _ := newIngestQueue(t)
	ctx := context.Background()

	_, err := q.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, q.Ack(ctx, "missing", 1), domain.ErrNotFound)
	assert.ErrorIs(t, q.Nack(ctx, "missing", "x"), domain.ErrNotFound)
	assert.NoError(t, q.Ping(ctx))
	assert.NoError(t, q.Close())
}
