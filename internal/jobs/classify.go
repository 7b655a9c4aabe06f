package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/rs/zerolog"
)

// BatchRunner runs one classification batch to completion.
type BatchRunner interface {
	Run(ctx context.Context, run classify.Run) *classify.Report
}

// NewClassifyHandler returns a JobHandler that runs classification batches with runner
// and folds the resulting report into the job.
func NewClassifyHandler(runner BatchRunner, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		batchJob, ok := job.(*ClassifyBatchJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("user_id", batchJob.UserID).
			Int("transactions", len(batchJob.Batch.Transactions)).
			Msg("Processing classification job")

		report := runner.Run(ctx, classify.Run{
			JobID:     batchJob.JobID,
			Principal: batchJob.Principal,
			Batch:     batchJob.Batch,
		})
		ApplyReport(batchJob, report)

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("status", string(batchJob.Status)).
			Int("updated", report.Updated).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed()).
			Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
			Msg("Classification job finished")

		return nil
	}
}

// ApplyReport copies the counters and failures of report into job and derives
// the terminal status: completed with no failures, failed when nothing succeeded,
// partial_failure otherwise.
func ApplyReport(job *ClassifyBatchJob, report *classify.Report) {
	job.TransactionCount = report.Total
	job.Updated = report.Updated
	job.Skipped = report.Skipped
	job.Duplicates = report.Duplicates
	job.Failed = report.Failed()

	job.Failures = nil
	for _, f := range report.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		job.Failures = append(job.Failures, FailureRecord{
			TransactionID: f.TransactionID,
			Stage:         f.Stage,
			Error:         msg,
		})
	}

	switch {
	case job.Failed == 0:
		job.Status = JobStatusCompleted
	case job.Updated+job.Skipped == 0:
		job.Status = JobStatusFailed
		job.Error = fmt.Sprintf("all %d transactions failed", job.Failed)
	default:
		job.Status = JobStatusPartialFailure
	}
}
