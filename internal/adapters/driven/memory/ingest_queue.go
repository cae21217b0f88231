package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.IngestQueue = (*IngestQueue)(nil)

// IngestQueue is an in-process FIFO of ingest jobs. Retries wait until
// their ScheduledFor time before they are handed out again.
type IngestQueue struct {
	mu     sync.Mutex
	jobs   map[string]*domain.IngestJob
	order  []string
	notify chan struct{}
}

// NewIngestQueue creates an empty queue
func NewIngestQueue() *IngestQueue {
	return &IngestQueue{
		jobs:   make(map[string]*domain.IngestJob),
		notify: make(chan struct{}, 1),
	}
}

func (q *IngestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *IngestQueue) Enqueue(ctx context.Context, job *domain.IngestJob) error {
	c := *job
	q.mu.Lock()
	q.jobs[c.ID] = &c
	q.order = append(q.order, c.ID)
	q.mu.Unlock()
	q.signal()
	return nil
}

// next pops the first due pending job and reports the earliest future due time
func (q *IngestQueue) next(now time.Time) (*domain.IngestJob, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var wake time.Time
	for i, id := range q.order {
		job := q.jobs[id]
		if job.ScheduledFor.After(now) {
			if wake.IsZero() || job.ScheduledFor.Before(wake) {
				wake = job.ScheduledFor
			}
			continue
		}
		q.order = append(q.order[:i:i], q.order[i+1:]...)
		job.MarkProcessing()
		c := *job
		return &c, time.Time{}
	}
	return nil, wake
}

func (q *IngestQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestJob, error) {
	if timeout < 1 {
		timeout = 1
	}
	deadline := time.NewTimer(time.Duration(timeout) * time.Second)
	defer deadline.Stop()

	for {
		job, wake := q.next(time.Now())
		if job != nil {
			return job, nil
		}
		var retry *time.Timer
		var retryC <-chan time.Time
		if !wake.IsZero() {
			retry = time.NewTimer(time.Until(wake))
			retryC = retry.C
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		case <-retryC:
		}
		if retry != nil {
			retry.Stop()
		}
	}
}

func (q *IngestQueue) Ack(ctx context.Context, jobID string, chunkCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.MarkCompleted(chunkCount)
	return nil
}

func (q *IngestQueue) Nack(ctx context.Context, jobID string, reason string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return domain.ErrNotFound
	}
	if job.CanRetry() {
		job.Retry(reason)
		q.order = append(q.order, jobID)
	} else {
		job.MarkFailed(reason)
	}
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *IngestQueue) GetJob(ctx context.Context, jobID string) (*domain.IngestJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *job
	return &c, nil
}

func (q *IngestQueue) Pending(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.order)), nil
}

func (q *IngestQueue) Ping(ctx context.Context) error {
	return nil
}

func (q *IngestQueue) Close() error {
	return nil
}
