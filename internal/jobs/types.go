package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeClassifyBatch represents a batch classification job.
	JobTypeClassifyBatch JobType = "classify_batch"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates every transaction was processed without error.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusPartialFailure indicates some transactions failed and others did not.
	JobStatusPartialFailure JobStatus = "partial_failure"
	// JobStatusFailed indicates the job failed as a whole.
	JobStatusFailed JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartialFailure, JobStatusFailed:
		return true
	}
	return false
}

var (
	// ErrJobNotFound is returned when a job ID is unknown to the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull is returned when a job cannot be enqueued without blocking.
	ErrQueueFull = errors.New("classification queue is full")
	// ErrQueueClosed is returned after the queue has been stopped.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrShuttingDown is recorded on queued jobs that never started before shutdown.
	ErrShuttingDown = errors.New("service shutting down")
)

// FailureRecord is the serializable form of a per-transaction failure.
type FailureRecord struct {
	TransactionID string `json:"transaction_id"`
	Stage         string `json:"stage"`
	Error         string `json:"error"`
}

// ClassifyBatchJob represents one accepted classification request.
type ClassifyBatchJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// UserID owns the job; only this user may read it back.
	UserID string `json:"user_id"`

	// Principal is the identity resolved when the request was accepted.
	Principal classify.Principal `json:"-"`

	// Batch is the detached copy of the request body.
	Batch classify.Batch `json:"-"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	TransactionCount int `json:"transaction_count"`
	Updated          int `json:"updated"`
	Skipped          int `json:"skipped"`
	Failed           int `json:"failed"`
	Duplicates       int `json:"duplicates"`

	// Failures lists the transactions that could not be classified or persisted.
	Failures []FailureRecord `json:"failures,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ClassifyBatchJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ClassifyBatchJob) GetType() JobType {
	return JobTypeClassifyBatch
}

// GetStatus implements the Job interface.
func (j *ClassifyBatchJob) GetStatus() JobStatus {
	return j.Status
}

// Clone returns a copy that shares no mutable slices with j.
func (j *ClassifyBatchJob) Clone() *ClassifyBatchJob {
	c := *j
	if j.Failures != nil {
		c.Failures = append([]FailureRecord(nil), j.Failures...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishClassifyBatch enqueues a batch classification job. It never blocks
	// on a full queue; ErrQueueFull is returned instead.
	PublishClassifyBatch(ctx context.Context, job *ClassifyBatchJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// A returned error marks the whole job failed; jobs are never retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ClassifyBatchJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ClassifyBatchJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ClassifyBatchJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error

	// PruneFinished removes terminal jobs completed before cutoff and returns how many were removed.
	PruneFinished(ctx context.Context, cutoff time.Time) (int, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by owner.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
