package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	runs    []classify.Run
	RunFunc func(ctx context.Context, run classify.Run) *classify.Report
}

func (m *mockRunner) Run(ctx context.Context, run classify.Run) *classify.Report {
	m.runs = append(m.runs, run)
	return m.RunFunc(ctx, run)
}

func TestApplyReport(t *testing.T) {
	failure := &classify.TransactionFailure{TransactionID: "t2", Stage: classify.StageCategory, Err: errors.New("oracle down")}

	tests := []struct {
		name       string
		report     *classify.Report
		wantStatus JobStatus
		wantError  string
	}{
		{
			name:       "all updated",
			report:     &classify.Report{Total: 2, Updated: 2},
			wantStatus: JobStatusCompleted,
		},
		{
			name:       "skips are not failures",
			report:     &classify.Report{Total: 2, Updated: 1, Skipped: 1},
			wantStatus: JobStatusCompleted,
		},
		{
			name:       "some failed",
			report:     &classify.Report{Total: 2, Updated: 1, Failures: []*classify.TransactionFailure{failure}},
			wantStatus: JobStatusPartialFailure,
		},
		{
			name:       "all failed",
			report:     &classify.Report{Total: 1, Failures: []*classify.TransactionFailure{failure}},
			wantStatus: JobStatusFailed,
			wantError:  "all 1 transactions failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &ClassifyBatchJob{JobID: "j1", Status: JobStatusRunning}
			ApplyReport(job, tt.report)

			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantError, job.Error)
			assert.Equal(t, tt.report.Total, job.TransactionCount)
			assert.Equal(t, tt.report.Failed(), job.Failed)
			assert.Len(t, job.Failures, tt.report.Failed())
		})
	}
}

func TestApplyReport_FailureRecords(t *testing.T) {
	job := &ClassifyBatchJob{}
	ApplyReport(job, &classify.Report{
		Total:   2,
		Updated: 1,
		Failures: []*classify.TransactionFailure{
			{TransactionID: "t2", Stage: classify.StagePersist, Err: errors.New("deadline exceeded")},
		},
	})

	require.Len(t, job.Failures, 1)
	assert.Equal(t, FailureRecord{TransactionID: "t2", Stage: "persist", Error: "deadline exceeded"}, job.Failures[0])
}

func TestNewClassifyHandler(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(_ context.Context, run classify.Run) *classify.Report {
			now := time.Now()
			return &classify.Report{JobID: run.JobID, Total: 1, Updated: 1, StartedAt: now, FinishedAt: now}
		},
	}
	handler := NewClassifyHandler(runner, zerolog.Nop())

	job := &ClassifyBatchJob{
		JobID:     "j1",
		UserID:    "u1",
		Principal: classify.Principal{UserID: "u1"},
		Status:    JobStatusRunning,
	}
	require.NoError(t, handler(context.Background(), job))

	require.Len(t, runner.runs, 1)
	assert.Equal(t, "j1", runner.runs[0].JobID)
	assert.Equal(t, "u1", runner.runs[0].Principal.UserID)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Updated)
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }

func TestNewClassifyHandler_RejectsUnknownJobType(t *testing.T) {
	handler := NewClassifyHandler(&mockRunner{}, zerolog.Nop())
	assert.Error(t, handler(context.Background(), otherJob{}))
}

func TestClassifyBatchJob_CloneIsIndependent(t *testing.T) {
	started := time.Now()
	job := &ClassifyBatchJob{
		JobID:     "j1",
		StartedAt: &started,
		Failures:  []FailureRecord{{TransactionID: "t1"}},
	}

	c := job.Clone()
	job.Failures[0].TransactionID = "changed"
	*job.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "t1", c.Failures[0].TransactionID)
	assert.True(t, c.StartedAt.Equal(started))
}
