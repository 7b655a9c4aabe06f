package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Run is one accepted batch handed to the orchestrator. Principal is the identity
// resolved at request time; every store write is scoped to it.
type Run struct {
	JobID     string
	Principal Principal
	Batch     Batch

	// OnProgress, if set, is called after each transaction with the number processed so far.
	OnProgress func(done int)
}

// Report summarizes a finished batch.
type Report struct {
	JobID      string                 `json:"job_id"`
	UserID     string                 `json:"user_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Total      int                    `json:"total"`
	Updated    int                    `json:"updated"`
	Skipped    int                    `json:"skipped"`
	Duplicates int                    `json:"duplicates"`
	Results    []ClassificationResult `json:"results"`
	Failures   []*TransactionFailure  `json:"-"`
}

// Failed returns the number of transactions that could not be classified or persisted.
func (r *Report) Failed() int {
	return len(r.Failures)
}

// Orchestrator classifies batches against an oracle and persists the predictions.
type Orchestrator struct {
	oracle Oracle
	store  TransactionStore
	sink   ResultSink
	log    zerolog.Logger

	categoryTemplate    string
	subcategoryTemplate string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithResultSink sets the diagnostic sink that receives every batch report.
func WithResultSink(sink ResultSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithTemplates overrides the hypothesis templates.
func WithTemplates(category, subcategory string) Option {
	return func(o *Orchestrator) {
		if category != "" {
			o.categoryTemplate = category
		}
		if subcategory != "" {
			o.subcategoryTemplate = subcategory
		}
	}
}

// NewOrchestrator wires an orchestrator to its collaborators.
func NewOrchestrator(oracle Oracle, store TransactionStore, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		oracle:              oracle,
		store:               store,
		log:                 log,
		categoryTemplate:    CategoryHypothesisTemplate,
		subcategoryTemplate: SubcategoryHypothesisTemplate,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run classifies every transaction of the batch in input order. A failure on one
// transaction is recorded and processing continues with the next one.
func (o *Orchestrator) Run(ctx context.Context, run Run) *Report {
	log := o.log.With().Str("job_id", run.JobID).Str("user_id", run.Principal.UserID).Logger()

	report := &Report{
		JobID:     run.JobID,
		UserID:    run.Principal.UserID,
		StartedAt: time.Now(),
		Total:     len(run.Batch.Transactions),
	}

	seen := make(map[string]bool, len(run.Batch.Transactions))
	for i, tx := range run.Batch.Transactions {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, &TransactionFailure{
				TransactionID: tx.TransactionID,
				Stage:         StageCanceled,
				Err:           err,
			})
			o.progress(run, i)
			continue
		}

		if seen[tx.TransactionID] {
			report.Duplicates++
			log.Warn().Str("transaction_id", tx.TransactionID).Msg("Duplicate transaction in batch, skipping")
			o.progress(run, i)
			continue
		}
		seen[tx.TransactionID] = true

		result, updated, err := o.processTransaction(ctx, run.Principal.UserID, tx, run.Batch.Categories)
		switch {
		case err != nil:
			failure := asFailure(tx.TransactionID, err)
			report.Failures = append(report.Failures, failure)
			log.Error().
				Err(failure.Err).
				Str("transaction_id", tx.TransactionID).
				Str("stage", failure.Stage).
				Msg("Transaction classification failed")
		case !updated:
			report.Skipped++
			report.Results = append(report.Results, result)
			log.Warn().
				Str("transaction_id", tx.TransactionID).
				Msg("No transaction matched id and owner, update skipped")
		default:
			report.Updated++
			report.Results = append(report.Results, result)
			log.Debug().
				Str("transaction_id", tx.TransactionID).
				Str("category", result.Category).
				Str("sub_category", result.SubCategory).
				Msg("Transaction classified")
		}
		o.progress(run, i)
	}

	report.FinishedAt = time.Now()

	// The report is still recorded when the job deadline has passed.
	if o.sink != nil {
		if err := o.sink.Record(context.WithoutCancel(ctx), report); err != nil {
			log.Error().Err(err).Msg("Failed to record classification results")
		}
	}

	return report
}

func (o *Orchestrator) progress(run Run, i int) {
	if run.OnProgress != nil {
		run.OnProgress(i + 1)
	}
}

// processTransaction runs the category and subcategory steps and persists the result.
// Panics raised by collaborators are converted into a failure for this transaction only.
func (o *Orchestrator) processTransaction(ctx context.Context, ownerID string, tx Transaction, taxonomy Taxonomy) (result ClassificationResult, updated bool, err error) {
	stage := StageCategory
	defer func() {
		if r := recover(); r != nil {
			kind := ErrClassification
			if stage == StagePersist {
				kind = ErrPersistence
			}
			err = &TransactionFailure{
				TransactionID: tx.TransactionID,
				Stage:         stage,
				Err:           fmt.Errorf("%w: panic: %v", kind, r),
			}
		}
	}()

	result = ClassificationResult{
		TransactionID: tx.TransactionID,
		Name:          tx.Name,
		Amount:        tx.Amount,
	}

	category, categoryScore, err := predictCategory(ctx, o.oracle, tx, taxonomy.Categories(), o.categoryTemplate)
	if err != nil {
		return result, false, &TransactionFailure{TransactionID: tx.TransactionID, Stage: StageCategory, Err: err}
	}
	result.Category = category
	result.CategoryScore = categoryScore

	update := ClassificationUpdate{
		Category:      category,
		CategoryScore: categoryScore,
	}

	if candidates := taxonomy.Subcategories(category); len(candidates) > 0 {
		stage = StageSubcategory
		sub, subScore, err := predictSubcategory(ctx, o.oracle, tx, category, candidates, o.subcategoryTemplate)
		if err != nil {
			return result, false, &TransactionFailure{TransactionID: tx.TransactionID, Stage: StageSubcategory, Err: err}
		}
		result.SubCategory = sub
		result.SubCategoryScore = subScore
		update.SubCategory = &sub
		update.SubCategoryScore = &subScore
	}

	stage = StagePersist
	n, err := o.store.UpdateIfOwned(ctx, tx.TransactionID, ownerID, update)
	if err != nil {
		return result, false, &TransactionFailure{
			TransactionID: tx.TransactionID,
			Stage:         StagePersist,
			Err:           fmt.Errorf("%w: %v", ErrPersistence, err),
		}
	}

	result.Persisted = n > 0
	return result, n > 0, nil
}

// predictCategory asks the oracle for the best category among all taxonomy categories.
func predictCategory(ctx context.Context, oracle Oracle, tx Transaction, categories []string, template string) (string, float64, error) {
	pred, err := oracle.Classify(ctx, categoryInput(tx), categories, template)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return topLabel(pred, categories)
}

// predictSubcategory asks the oracle for the best subcategory of the just-predicted category.
func predictSubcategory(ctx context.Context, oracle Oracle, tx Transaction, category string, candidates []string, template string) (string, float64, error) {
	pred, err := oracle.Classify(ctx, subcategoryInput(tx, category), candidates, subcategoryTemplate(template, category))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return topLabel(pred, candidates)
}

// topLabel returns the first-ranked label after checking the prediction is well formed.
func topLabel(pred Prediction, candidates []string) (string, float64, error) {
	if len(pred.Labels) == 0 {
		return "", 0, fmt.Errorf("%w: oracle returned no labels", ErrClassification)
	}
	if len(pred.Labels) != len(pred.Scores) {
		return "", 0, fmt.Errorf("%w: oracle returned %d labels and %d scores", ErrClassification, len(pred.Labels), len(pred.Scores))
	}

	label, score := pred.Labels[0], pred.Scores[0]
	if math.IsNaN(score) || score < 0 || score > 1 {
		return "", 0, fmt.Errorf("%w: score %v for %q is outside [0,1]", ErrClassification, score, label)
	}

	for _, c := range candidates {
		if c == label {
			return label, score, nil
		}
	}
	return "", 0, fmt.Errorf("%w: oracle label %q is not a candidate", ErrClassification, label)
}

func asFailure(transactionID string, err error) *TransactionFailure {
	var f *TransactionFailure
	if errors.As(err, &f) {
		return f
	}
	return &TransactionFailure{TransactionID: transactionID, Stage: StageCategory, Err: err}
}
