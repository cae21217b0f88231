package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an ingest job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IngestJob is a background document ingestion processed by workers
type IngestJob struct {
	ID string `json:"id"`

	// Document is the text and scope to ingest
	Document DocumentInput `json:"document"`

	Status JobStatus `json:"status"`

	// Attempts is how many times this job has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// ChunkCount is set once the job completes
	ChunkCount int `json:"chunk_count"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the job should be processed (delayed retries)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIngestJob creates a pending job for a document
func NewIngestJob(doc DocumentInput) *IngestJob {
	now := time.Now()
	return &IngestJob{
		ID:           uuid.NewString(),
		Document:     doc,
		Status:       JobStatusPending,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if the job can be retried
func (j *IngestJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// MarkProcessing updates the job to processing state
func (j *IngestJob) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted updates the job to completed state
func (j *IngestJob) MarkCompleted(chunkCount int) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.ChunkCount = chunkCount
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Error = ""
}

// MarkFailed updates the job to failed state
func (j *IngestJob) MarkFailed(err string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.Error = err
}

// Retry resets the job for retry with exponential backoff
func (j *IngestJob) Retry(err string) {
	now := time.Now()
	j.Status = JobStatusPending
	j.UpdatedAt = now
	j.Error = err

	// 1s, 2s, 4s ... capped at 5 minutes
	backoff := time.Duration(1<<j.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	j.ScheduledFor = now.Add(backoff)
}

// Summary returns a copy without the document text, for status responses
func (j *IngestJob) Summary() IngestJob {
	c := *j
	c.Document.Text = ""
	return c
}
