// Package worker drains the ingest queue in the background.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Worker processes ingest jobs from the queue.
// Each job runs through the ingest service and is acked with its chunk count.
type Worker struct {
	queue  driven.IngestQueue
	ingest driving.IngestService
	logger *zap.Logger

	concurrency    int
	dequeueTimeout int // seconds

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// Config holds configuration for the worker.
type Config struct {
	Queue          driven.IngestQueue
	Ingest         driving.IngestService
	Logger         *zap.Logger
	Concurrency    int // Number of concurrent job processors
	DequeueTimeout int // Seconds to wait for a job before checking again
}

// New creates a new ingest worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		queue:          cfg.Queue,
		ingest:         cfg.Ingest,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	// Stop cancels dequeueing only; a job already taken finishes on ctx.
	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		zap.Int("concurrency", w.concurrency),
		zap.Int("dequeue_timeout", w.dequeueTimeout),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, loopCtx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) processLoop(ctx, loopCtx context.Context, workerID int) {
	logger := w.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("worker goroutine started")

	for {
		if loopCtx.Err() != nil {
			logger.Debug("worker goroutine exiting")
			return
		}

		job, err := w.queue.DequeueWithTimeout(loopCtx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue job", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-loopCtx.Done():
			}
			continue
		}

		if job == nil {
			continue
		}

		w.processJob(ctx, job, logger)
	}
}

func (w *Worker) processJob(ctx context.Context, job *domain.IngestJob, logger *zap.Logger) {
	logger = logger.With(
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.Document.TenantID),
		zap.String("source_file", job.Document.SourceFile),
		zap.Int("attempt", job.Attempts),
	)
	logger.Info("processing ingest job")

	start := time.Now()
	count, err := w.ingest.ProcessDocument(ctx, job.Document)
	duration := time.Since(start)

	if err != nil {
		logger.Error("ingest job failed", zap.Duration("duration", duration), zap.Error(err))
		if nackErr := w.queue.Nack(ctx, job.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack job", zap.Error(nackErr))
		}
		return
	}

	logger.Info("ingest job completed", zap.Duration("duration", duration), zap.Int("chunks", count))

	if ackErr := w.queue.Ack(ctx, job.ID, count); ackErr != nil {
		logger.Error("failed to ack job", zap.Error(ackErr))
	}
}

// Health is the worker's status.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Pending     int64  `json:"pending"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}

	if err := w.queue.Ping(ctx); err != nil {
		health.Error = err.Error()
		return health
	}
	health.QueueHealth = true

	if pending, err := w.queue.Pending(ctx); err == nil {
		health.Pending = pending
	}
	return health
}
