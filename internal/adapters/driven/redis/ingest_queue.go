package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

const (
	jobStream     = "rag:ingest:jobs"
	jobGroup      = "rag:ingest:workers"
	scheduledJobs = "rag:ingest:scheduled"
	jobKeyPrefix  = "rag:ingest:job:"

	// how long a job record outlives its last update
	jobRetention = 24 * time.Hour

	// a delivered message idle this long belongs to a dead worker
	claimTimeout = 10 * time.Minute
)

var _ driven.IngestQueue = (*IngestQueue)(nil)

// IngestQueue implements driven.IngestQueue on a Redis stream with a
// consumer group. Job bodies live in plain keys; the stream only carries
// IDs. Retries wait in a sorted set scored by due time.
type IngestQueue struct {
	client   redis.UniversalClient
	consumer string
	logger   *zap.Logger
}

// NewIngestQueue creates the consumer group if needed.
// consumer must be unique per worker process; empty picks one.
func NewIngestQueue(ctx context.Context, client redis.UniversalClient, consumer string, logger *zap.Logger) (*IngestQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if consumer == "" {
		consumer = newOwnerID()
	}

	err := client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &IngestQueue{
		client:   client,
		consumer: consumer,
		logger:   logger.Named("ingest_queue"),
	}, nil
}

func jobKey(id string) string { return jobKeyPrefix + id }
func msgKey(id string) string { return jobKeyPrefix + id + ":msg" }

// Enqueue stores the job and makes it visible to workers
func (q *IngestQueue) Enqueue(ctx context.Context, job *domain.IngestJob) error {
	if job == nil {
		return errors.New("job is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, jobRetention)
	if job.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{Score: float64(job.ScheduledFor.Unix()), Member: job.ID})
	} else {
		pipe.XAdd(ctx, streamArgs(job))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func streamArgs(job *domain.IngestJob) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{
			"job_id":    job.ID,
			"tenant_id": job.Document.TenantID,
		},
	}
}

// DequeueWithTimeout returns the next job marked processing, or nil, nil
// when nothing arrives within timeout seconds.
func (q *IngestQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestJob, error) {
	if err := q.promoteScheduled(ctx); err != nil {
		q.logger.Warn("promote scheduled jobs failed", zap.Error(err))
	}

	if job, err := q.claimAbandoned(ctx); err != nil {
		q.logger.Debug("claim abandoned jobs failed", zap.Error(err))
	} else if job != nil {
		return job, nil
	}

	if timeout < 1 {
		timeout = 1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumer,
		Streams:  []string{jobStream, ">"},
		Count:    1,
		Block:    time.Duration(timeout) * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.take(ctx, streams[0].Messages[0])
}

// take loads the job behind a delivered message and marks it processing.
// Messages without a readable job are dropped.
func (q *IngestQueue) take(ctx context.Context, msg redis.XMessage) (*domain.IngestJob, error) {
	id, _ := msg.Values["job_id"].(string)
	job, err := q.load(ctx, id)
	if id == "" || errors.Is(err, domain.ErrNotFound) {
		q.drop(ctx, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.MarkProcessing()
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, jobRetention)
	pipe.Set(ctx, msgKey(job.ID), msg.ID, jobRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mark job processing: %w", err)
	}
	return job, nil
}

func (q *IngestQueue) drop(ctx context.Context, msgID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, jobStream, jobGroup, msgID)
	pipe.XDel(ctx, jobStream, msgID)
	_, _ = pipe.Exec(ctx)
}

// Ack records completion and removes the stream message
func (q *IngestQueue) Ack(ctx context.Context, jobID string, chunkCount int) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	job.MarkCompleted(chunkCount)
	return q.settle(ctx, job, false)
}

// Nack records a failure. The job goes back to the scheduled set with
// backoff while attempts remain, otherwise it is marked failed.
func (q *IngestQueue) Nack(ctx context.Context, jobID string, reason string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	retry := job.CanRetry()
	if retry {
		job.Retry(reason)
	} else {
		job.MarkFailed(reason)
	}
	return q.settle(ctx, job, retry)
}

func (q *IngestQueue) settle(ctx context.Context, job *domain.IngestJob, reschedule bool) error {
	msgID, err := q.client.Get(ctx, msgKey(job.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read message id: %w", err)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}
	pipe.Set(ctx, jobKey(job.ID), data, jobRetention)
	if reschedule {
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{Score: float64(job.ScheduledFor.Unix()), Member: job.ID})
	}
	pipe.Del(ctx, msgKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns domain.ErrNotFound for unknown or expired jobs
func (q *IngestQueue) GetJob(ctx context.Context, jobID string) (*domain.IngestJob, error) {
	return q.load(ctx, jobID)
}

func (q *IngestQueue) load(ctx context.Context, jobID string) (*domain.IngestJob, error) {
	if jobID == "" {
		return nil, domain.ErrNotFound
	}
	data, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job domain.IngestJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Pending counts undelivered stream entries plus scheduled retries.
// Settled messages are deleted from the stream, so its length minus the
// group's delivered-unacked count is what still waits for a worker.
func (q *IngestQueue) Pending(ctx context.Context) (int64, error) {
	length, err := q.client.XLen(ctx, jobStream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("stream length: %w", err)
	}
	var delivered int64
	summary, err := q.client.XPending(ctx, jobStream, jobGroup).Result()
	if err != nil && !errors.Is(err, redis.Nil) && !isStreamNotExistsError(err) {
		return 0, fmt.Errorf("pending summary: %w", err)
	}
	if summary != nil {
		delivered = summary.Count
	}

	scheduled, err := q.client.ZCard(ctx, scheduledJobs).Result()
	if err != nil {
		return 0, fmt.Errorf("scheduled count: %w", err)
	}
	waiting := length - delivered
	if waiting < 0 {
		waiting = 0
	}
	return waiting + scheduled, nil
}

// Ping checks the Redis connection
func (q *IngestQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared
func (q *IngestQueue) Close() error {
	return nil
}

// promoteScheduled moves due retries onto the stream
func (q *IngestQueue) promoteScheduled(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledJobs, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	pipe := q.client.Pipeline()
	for _, id := range due {
		// ZREM guards against two workers promoting the same job
		removed, err := q.client.ZRem(ctx, scheduledJobs, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		job, err := q.load(ctx, id)
		if err != nil {
			continue
		}
		pipe.XAdd(ctx, streamArgs(job))
	}
	_, err = pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// claimAbandoned takes over a message another consumer read but never settled
func (q *IngestQueue) claimAbandoned(ctx context.Context) (*domain.IngestJob, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Idle:   claimTimeout,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumer,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}
		job, err := q.take(ctx, claimed[0])
		if err != nil {
			return nil, err
		}
		if job != nil {
			q.logger.Info("claimed abandoned job", zap.String("job_id", job.ID), zap.String("from", p.Consumer))
			return job, nil
		}
	}
	return nil, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isStreamNotExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such key") || strings.Contains(msg, "requires the key to exist")
}
