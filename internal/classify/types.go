// Package classify implements asynchronous transaction classification: request
// validation, bearer authentication, and the per-transaction category and
// subcategory pipeline that writes predictions back to the transaction store.
package classify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one entry of an inbound batch.
type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
}

// Batch is the body of a classification request.
type Batch struct {
	Transactions []Transaction `json:"transactions"`
	Categories   Taxonomy      `json:"categories"`
}

// Clone returns a deep copy so a background task never observes caller mutations.
func (b Batch) Clone() Batch {
	txs := make([]Transaction, len(b.Transactions))
	copy(txs, b.Transactions)
	return Batch{
		Transactions: txs,
		Categories:   b.Categories.Clone(),
	}
}

// Principal is the user identity resolved from a bearer token.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Prediction is the oracle's answer: labels ranked by descending score,
// with Scores aligned to Labels.
type Prediction struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// ClassificationUpdate is the set of fields written for one transaction.
// A nil SubCategory leaves the stored subcategory untouched.
type ClassificationUpdate struct {
	Category         string
	CategoryScore    float64
	SubCategory      *string
	SubCategoryScore *float64
}

// StoredTransaction is a transaction record as read back from the store.
type StoredTransaction struct {
	TransactionID    string          `json:"transaction_id"`
	UserID           string          `json:"user_id"`
	Name             string          `json:"name"`
	Amount           decimal.Decimal `json:"amount"`
	LocalCategory    *string         `json:"local_category"`
	LocalSubCategory *string         `json:"local_sub_category"`
	CategoryScore    *float64        `json:"category_score,omitempty"`
	SubCategoryScore *float64        `json:"sub_category_score,omitempty"`
	UpdatedAt        *time.Time      `json:"updated_at,omitempty"`
}

// ClassificationResult is the in-memory diagnostic record for one transaction.
type ClassificationResult struct {
	TransactionID    string          `json:"transaction_id"`
	Name             string          `json:"name"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"predicted_category"`
	CategoryScore    float64         `json:"category_score"`
	SubCategory      string          `json:"predicted_sub_category,omitempty"`
	SubCategoryScore float64         `json:"sub_category_score,omitempty"`
	Persisted        bool            `json:"persisted"`
}

// Oracle scores candidate labels for a piece of text.
type Oracle interface {
	Classify(ctx context.Context, text string, candidateLabels []string, hypothesisTemplate string) (Prediction, error)
}

// IdentityResolver maps a raw bearer token to a principal.
// Implementations return ErrPrincipalNotFound when no principal matches.
type IdentityResolver interface {
	FindByToken(ctx context.Context, token string) (*Principal, error)
}

// TransactionStore applies classification updates scoped to an owner.
// UpdateIfOwned returns the number of records updated (0 or 1).
type TransactionStore interface {
	UpdateIfOwned(ctx context.Context, transactionID, ownerID string, update ClassificationUpdate) (int64, error)
}

// TransactionReader is the owner-scoped point lookup used for polling.
// Implementations return ErrTransactionNotFound for missing or foreign records.
type TransactionReader interface {
	GetOwned(ctx context.Context, transactionID, ownerID string) (*StoredTransaction, error)
}

// ResultSink receives the report of every finished batch.
type ResultSink interface {
	Record(ctx context.Context, report *Report) error
}
