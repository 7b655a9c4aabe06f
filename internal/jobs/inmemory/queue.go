package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultWorkerCount = 5

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Jobs are lost on restart; clients that care re-submit.
type Queue struct {
	jobChan     chan *jobs.ClassifyBatchJob
	closeChan   chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	store       jobs.JobStore
	closed      bool
	workerCount int
	jobTimeout  time.Duration
	log         zerolog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent workers started by Start.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workerCount = n
		}
	}
}

// WithJobTimeout bounds how long a single job may run. Zero means no deadline.
func WithJobTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.jobTimeout = d }
}

// WithLogger sets the logger used for job lifecycle events.
func WithLogger(log zerolog.Logger) QueueOption {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can wait before PublishClassifyBatch reports ErrQueueFull.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...QueueOption) *Queue {
	q := &Queue{
		jobChan:     make(chan *jobs.ClassifyBatchJob, bufferSize),
		closeChan:   make(chan struct{}),
		store:       store,
		workerCount: defaultWorkerCount,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishClassifyBatch implements the Publisher interface.
// It enqueues a classification job for asynchronous processing.
func (q *Queue) PublishClassifyBatch(ctx context.Context, job *jobs.ClassifyBatchJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.TransactionCount == 0 {
		job.TransactionCount = len(job.Batch.Transactions)
	}

	// Saved before enqueueing so a fast worker never races the pending write.
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job.Clone()); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	default:
		if q.store != nil {
			_ = q.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, jobs.ErrQueueFull.Error())
		}
		return jobs.ErrQueueFull
	}
}

// Start implements the Consumer interface.
// It starts consuming jobs from the queue and processes them using the provided handler.
// The handler is called concurrently for each job, up to workerCount workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job under the configured deadline.
func (q *Queue) processJob(ctx context.Context, job *jobs.ClassifyBatchJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	jobCtx := ctx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	err := q.runHandler(jobCtx, job, handler)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err != nil:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		q.log.Error().Err(err).Str("job_id", job.JobID).Msg("Job failed")
	case job.Status == jobs.JobStatusRunning:
		job.Status = jobs.JobStatusCompleted
	}

	q.save(ctx, job)
}

func (q *Queue) runHandler(ctx context.Context, job *jobs.ClassifyBatchJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.ClassifyBatchJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job.Clone()); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue, fails jobs that were still waiting in the buffer and
// waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	q.drain(context.WithoutCancel(ctx))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain marks every job left in the buffer as failed so none stays pending forever.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case job := <-q.jobChan:
			if job == nil {
				continue
			}
			q.log.Warn().Str("job_id", job.JobID).Msg("Dropping queued job on shutdown")
			if q.store == nil {
				continue
			}
			if err := q.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, jobs.ErrShuttingDown.Error()); err != nil {
				q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
			}
		default:
			return
		}
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
