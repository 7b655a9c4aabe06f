// Package resultlog records classification batch reports for diagnostics.
package resultlog

import (
	"context"
	"errors"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/rs/zerolog"
)

// LogSink writes one structured log line per classified transaction and a batch summary.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink that logs to log.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Record implements classify.ResultSink.
func (s *LogSink) Record(_ context.Context, report *classify.Report) error {
	log := s.log.With().Str("job_id", report.JobID).Str("user_id", report.UserID).Logger()

	for _, r := range report.Results {
		ev := log.Info().
			Str("transaction_id", r.TransactionID).
			Str("name", r.Name).
			Str("amount", r.Amount.String()).
			Str("predicted_category", r.Category).
			Float64("category_score", r.CategoryScore).
			Bool("persisted", r.Persisted)
		if r.SubCategory != "" {
			ev = ev.Str("predicted_sub_category", r.SubCategory).
				Float64("sub_category_score", r.SubCategoryScore)
		}
		ev.Msg("Classification result")
	}

	for _, f := range report.Failures {
		log.Error().
			Err(f.Err).
			Str("transaction_id", f.TransactionID).
			Str("stage", f.Stage).
			Msg("Classification failed")
	}

	log.Info().
		Int("total", report.Total).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed()).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Classification batch finished")

	return nil
}

// Multi fans a report out to several sinks. Every sink is called even when an
// earlier one fails; the errors are joined.
type Multi []classify.ResultSink

// Record implements classify.ResultSink.
func (m Multi) Record(ctx context.Context, report *classify.Report) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
