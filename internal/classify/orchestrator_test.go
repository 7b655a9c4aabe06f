package classify

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oracleCall struct {
	Text       string
	Candidates []string
	Template   string
}

type mockOracle struct {
	mu           sync.Mutex
	calls        []oracleCall
	ClassifyFunc func(ctx context.Context, text string, candidates []string, template string) (Prediction, error)
}

func (m *mockOracle) Classify(ctx context.Context, text string, candidates []string, template string) (Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, oracleCall{Text: text, Candidates: append([]string(nil), candidates...), Template: template})
	m.mu.Unlock()
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text, candidates, template)
	}
	return Prediction{Labels: candidates, Scores: descending(len(candidates))}, nil
}

func descending(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.9 / float64(i+1)
	}
	return scores
}

type storeCall struct {
	TransactionID string
	OwnerID       string
	Update        ClassificationUpdate
}

type mockStore struct {
	calls             []storeCall
	UpdateIfOwnedFunc func(ctx context.Context, transactionID, ownerID string, update ClassificationUpdate) (int64, error)
}

func (m *mockStore) UpdateIfOwned(ctx context.Context, transactionID, ownerID string, update ClassificationUpdate) (int64, error) {
	m.calls = append(m.calls, storeCall{TransactionID: transactionID, OwnerID: ownerID, Update: update})
	if m.UpdateIfOwnedFunc != nil {
		return m.UpdateIfOwnedFunc(ctx, transactionID, ownerID, update)
	}
	return 1, nil
}

type recordingSink struct {
	reports []*Report
	ctxErrs []error
	err     error
}

func (r *recordingSink) Record(ctx context.Context, report *Report) error {
	r.reports = append(r.reports, report)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func mustTaxonomy(t *testing.T, names []string, subs map[string][]string) Taxonomy {
	t.Helper()
	tax, err := NewTaxonomy(names, subs)
	require.NoError(t, err)
	return tax
}

func newTestOrchestrator(o *mockOracle, s *mockStore, opts ...Option) *Orchestrator {
	return NewOrchestrator(o, s, zerolog.Nop(), opts...)
}

func TestOrchestrator_CategoryAndSubcategory(t *testing.T) {
	oracle := &mockOracle{
		ClassifyFunc: func(_ context.Context, text string, candidates []string, _ string) (Prediction, error) {
			if candidates[0] == "Food" || candidates[0] == "Transport" {
				return Prediction{Labels: []string{"Food", "Transport"}, Scores: []float64{0.92, 0.08}}, nil
			}
			return Prediction{Labels: []string{"Groceries", "Restaurants"}, Scores: []float64{0.81, 0.19}}, nil
		},
	}
	store := &mockStore{}
	sink := &recordingSink{}
	orch := newTestOrchestrator(oracle, store, WithResultSink(sink))

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "Walmart", Amount: decimal.RequireFromString("45.20")}},
		Categories: mustTaxonomy(t, []string{"Food", "Transport"}, map[string][]string{
			"Food":      {"Groceries", "Restaurants"},
			"Transport": {"Fuel"},
		}),
	}

	report := orch.Run(context.Background(), Run{JobID: "job-1", Principal: Principal{UserID: "u1"}, Batch: batch})

	require.Len(t, oracle.calls, 2)
	assert.Equal(t, "Walmart, amount: 45.20", oracle.calls[0].Text)
	assert.Equal(t, []string{"Food", "Transport"}, oracle.calls[0].Candidates)
	assert.Equal(t, CategoryHypothesisTemplate, oracle.calls[0].Template)
	assert.Equal(t, "Walmart, amount: 45.20, category: Food", oracle.calls[1].Text)
	assert.Equal(t, []string{"Groceries", "Restaurants"}, oracle.calls[1].Candidates)
	assert.Equal(t, "Within the Food category, this transaction is best described as {}.", oracle.calls[1].Template)

	require.Len(t, store.calls, 1)
	call := store.calls[0]
	assert.Equal(t, "t1", call.TransactionID)
	assert.Equal(t, "u1", call.OwnerID)
	assert.Equal(t, "Food", call.Update.Category)
	require.NotNil(t, call.Update.SubCategory)
	assert.Equal(t, "Groceries", *call.Update.SubCategory)
	assert.InDelta(t, 0.81, *call.Update.SubCategoryScore, 1e-9)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Failed())
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Persisted)
	assert.Equal(t, "Groceries", report.Results[0].SubCategory)

	require.Len(t, sink.reports, 1)
	assert.Same(t, report, sink.reports[0])
}

func TestOrchestrator_NoSubcategoriesSkipsSecondCall(t *testing.T) {
	oracle := &mockOracle{}
	store := &mockStore{}
	orch := newTestOrchestrator(oracle, store)

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "Shell", Amount: decimal.NewFromInt(60)}},
		Categories:   mustTaxonomy(t, []string{"Transport"}, map[string][]string{"Transport": {}}),
	}

	report := orch.Run(context.Background(), Run{Principal: Principal{UserID: "u1"}, Batch: batch})

	assert.Len(t, oracle.calls, 1)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "Transport", store.calls[0].Update.Category)
	assert.Nil(t, store.calls[0].Update.SubCategory)
	assert.Nil(t, store.calls[0].Update.SubCategoryScore)
	assert.Equal(t, 1, report.Updated)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	tests := []struct {
		name      string
		oracle    func(ctx context.Context, text string, candidates []string, template string) (Prediction, error)
		update    func(ctx context.Context, transactionID, ownerID string, update ClassificationUpdate) (int64, error)
		wantStage string
		wantErr   error
	}{
		{
			name: "oracle error on category",
			oracle: func(_ context.Context, text string, candidates []string, _ string) (Prediction, error) {
				if text == "B, amount: 2.00" {
					return Prediction{}, errors.New("model unavailable")
				}
				return Prediction{Labels: candidates, Scores: descending(len(candidates))}, nil
			},
			wantStage: StageCategory,
			wantErr:   ErrClassification,
		},
		{
			name: "oracle error on subcategory",
			oracle: func(_ context.Context, text string, candidates []string, _ string) (Prediction, error) {
				if text == "B, amount: 2.00, category: Food" {
					return Prediction{}, errors.New("timeout")
				}
				return Prediction{Labels: candidates, Scores: descending(len(candidates))}, nil
			},
			wantStage: StageSubcategory,
			wantErr:   ErrClassification,
		},
		{
			name: "store error",
			update: func(_ context.Context, transactionID, _ string, _ ClassificationUpdate) (int64, error) {
				if transactionID == "b" {
					return 0, errors.New("connection reset")
				}
				return 1, nil
			},
			wantStage: StagePersist,
			wantErr:   ErrPersistence,
		},
		{
			name: "oracle panic",
			oracle: func(_ context.Context, text string, candidates []string, _ string) (Prediction, error) {
				if text == "B, amount: 2.00" {
					panic("boom")
				}
				return Prediction{Labels: candidates, Scores: descending(len(candidates))}, nil
			},
			wantStage: StageCategory,
			wantErr:   ErrClassification,
		},
		{
			name: "store panic",
			update: func(_ context.Context, transactionID, _ string, _ ClassificationUpdate) (int64, error) {
				if transactionID == "b" {
					panic("driver bug")
				}
				return 1, nil
			},
			wantStage: StagePersist,
			wantErr:   ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &mockOracle{ClassifyFunc: tt.oracle}
			store := &mockStore{UpdateIfOwnedFunc: tt.update}
			orch := newTestOrchestrator(oracle, store)

			batch := Batch{
				Transactions: []Transaction{
					{TransactionID: "a", Name: "A", Amount: decimal.NewFromInt(1)},
					{TransactionID: "b", Name: "B", Amount: decimal.NewFromInt(2)},
					{TransactionID: "c", Name: "C", Amount: decimal.NewFromInt(3)},
				},
				Categories: mustTaxonomy(t, []string{"Food"}, map[string][]string{"Food": {"Groceries"}}),
			}

			report := orch.Run(context.Background(), Run{Principal: Principal{UserID: "u1"}, Batch: batch})

			assert.Equal(t, 2, report.Updated)
			require.Equal(t, 1, report.Failed())
			failure := report.Failures[0]
			assert.Equal(t, "b", failure.TransactionID)
			assert.Equal(t, tt.wantStage, failure.Stage)
			assert.ErrorIs(t, failure, tt.wantErr)

			ids := make([]string, 0, len(report.Results))
			for _, r := range report.Results {
				ids = append(ids, r.TransactionID)
			}
			assert.Equal(t, []string{"a", "c"}, ids)
		})
	}
}

func TestOrchestrator_ZeroRowsIsSkip(t *testing.T) {
	store := &mockStore{
		UpdateIfOwnedFunc: func(context.Context, string, string, ClassificationUpdate) (int64, error) {
			return 0, nil
		},
	}
	orch := newTestOrchestrator(&mockOracle{}, store)

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "Walmart", Amount: decimal.NewFromInt(10)}},
		Categories:   mustTaxonomy(t, []string{"Food"}, nil),
	}

	report := orch.Run(context.Background(), Run{Principal: Principal{UserID: "someone-else"}, Batch: batch})

	assert.Zero(t, report.Updated)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed())
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Persisted)
}

func TestOrchestrator_DuplicateTransactionsProcessedOnce(t *testing.T) {
	oracle := &mockOracle{}
	store := &mockStore{}
	orch := newTestOrchestrator(oracle, store)

	var progress []int
	batch := Batch{
		Transactions: []Transaction{
			{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)},
			{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)},
			{TransactionID: "t2", Name: "B", Amount: decimal.NewFromInt(2)},
		},
		Categories: mustTaxonomy(t, []string{"Food"}, nil),
	}

	report := orch.Run(context.Background(), Run{
		Principal:  Principal{UserID: "u1"},
		Batch:      batch,
		OnProgress: func(done int) { progress = append(progress, done) },
	})

	assert.Len(t, store.calls, 2)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestOrchestrator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	store := &mockStore{}
	store.UpdateIfOwnedFunc = func(context.Context, string, string, ClassificationUpdate) (int64, error) {
		cancel()
		return 1, nil
	}
	orch := newTestOrchestrator(&mockOracle{}, store)

	batch := Batch{
		Transactions: []Transaction{
			{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)},
			{TransactionID: "t2", Name: "B", Amount: decimal.NewFromInt(2)},
			{TransactionID: "t3", Name: "C", Amount: decimal.NewFromInt(3)},
		},
		Categories: mustTaxonomy(t, []string{"Food"}, nil),
	}

	report := orch.Run(ctx, Run{Principal: Principal{UserID: "u1"}, Batch: batch})

	assert.Equal(t, 1, report.Updated)
	require.Equal(t, 2, report.Failed())
	for _, f := range report.Failures {
		assert.Equal(t, StageCanceled, f.Stage)
		assert.ErrorIs(t, f, context.Canceled)
	}
}

func TestOrchestrator_SinkErrorDoesNotFailBatch(t *testing.T) {
	sink := &recordingSink{err: errors.New("bucket missing")}
	orch := newTestOrchestrator(&mockOracle{}, &mockStore{}, WithResultSink(sink))

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)}},
		Categories:   mustTaxonomy(t, []string{"Food"}, nil),
	}

	report := orch.Run(context.Background(), Run{Principal: Principal{UserID: "u1"}, Batch: batch})

	assert.Equal(t, 1, report.Updated)
	assert.Len(t, sink.reports, 1)
}

func TestOrchestrator_WithTemplates(t *testing.T) {
	oracle := &mockOracle{}
	orch := newTestOrchestrator(oracle, &mockStore{}, WithTemplates("It is {}.", "A {category} of kind {}."))

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)}},
		Categories:   mustTaxonomy(t, []string{"Food"}, map[string][]string{"Food": {"Groceries"}}),
	}

	orch.Run(context.Background(), Run{Principal: Principal{UserID: "u1"}, Batch: batch})

	require.Len(t, oracle.calls, 2)
	assert.Equal(t, "It is {}.", oracle.calls[0].Template)
	assert.Equal(t, "A Food of kind {}.", oracle.calls[1].Template)
}

func TestTopLabel(t *testing.T) {
	candidates := []string{"Food", "Transport"}

	tests := []struct {
		name      string
		pred      Prediction
		wantLabel string
		wantErr   bool
	}{
		{name: "valid", pred: Prediction{Labels: []string{"Transport", "Food"}, Scores: []float64{0.7, 0.3}}, wantLabel: "Transport"},
		{name: "no labels", pred: Prediction{}, wantErr: true},
		{name: "length mismatch", pred: Prediction{Labels: []string{"Food"}, Scores: []float64{0.5, 0.5}}, wantErr: true},
		{name: "score above one", pred: Prediction{Labels: []string{"Food"}, Scores: []float64{1.2}}, wantErr: true},
		{name: "negative score", pred: Prediction{Labels: []string{"Food"}, Scores: []float64{-0.1}}, wantErr: true},
		{name: "nan score", pred: Prediction{Labels: []string{"Food"}, Scores: []float64{math.NaN()}}, wantErr: true},
		{name: "unknown label", pred: Prediction{Labels: []string{"Rent"}, Scores: []float64{0.9}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, _, err := topLabel(tt.pred, candidates)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrClassification)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, label)
		})
	}
}

func TestOrchestrator_SinkRecordsAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	oracle := &mockOracle{ClassifyFunc: func(ctx context.Context, _ string, _ []string, _ string) (Prediction, error) {
		<-ctx.Done()
		return Prediction{}, ctx.Err()
	}}
	sink := &recordingSink{}
	orch := newTestOrchestrator(oracle, &mockStore{}, WithResultSink(sink))

	batch := Batch{
		Transactions: []Transaction{{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)}},
		Categories:   mustTaxonomy(t, []string{"Food"}, nil),
	}

	report := orch.Run(ctx, Run{JobID: "job-1", Principal: Principal{UserID: "u1"}, Batch: batch})

	require.Equal(t, 1, report.Failed())
	assert.ErrorIs(t, report.Failures[0], ErrClassification)
	assert.Error(t, ctx.Err())
	require.Len(t, sink.ctxErrs, 1)
	assert.NoError(t, sink.ctxErrs[0])
}
