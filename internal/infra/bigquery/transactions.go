package bigquery

import (
	"fmt"
	"math/big"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/shopspring/decimal"
)

// TransactionRow is a row of the transactions table as read by the classifier.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	Name   bigquery.NullString `bigquery:"name"`   // NULLABLE
	Amount *big.Rat            `bigquery:"amount"` // NULLABLE NUMERIC

	LocalCategory    bigquery.NullString  `bigquery:"local_category"`     // NULLABLE
	LocalSubCategory bigquery.NullString  `bigquery:"local_sub_category"` // NULLABLE
	CategoryScore    bigquery.NullFloat64 `bigquery:"category_score"`     // NULLABLE
	SubCategoryScore bigquery.NullFloat64 `bigquery:"sub_category_score"` // NULLABLE

	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// toStored converts a row into the store-agnostic representation.
func (r *TransactionRow) toStored() (*classify.StoredTransaction, error) {
	out := &classify.StoredTransaction{
		TransactionID: r.TransactionID,
		UserID:        r.UserID,
		Name:          r.Name.StringVal,
	}

	if r.Amount != nil {
		amount, err := decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return nil, fmt.Errorf("converting amount: %w", err)
		}
		out.Amount = amount
	}

	if r.LocalCategory.Valid {
		v := r.LocalCategory.StringVal
		out.LocalCategory = &v
	}
	if r.LocalSubCategory.Valid {
		v := r.LocalSubCategory.StringVal
		out.LocalSubCategory = &v
	}
	if r.CategoryScore.Valid {
		v := r.CategoryScore.Float64
		out.CategoryScore = &v
	}
	if r.SubCategoryScore.Valid {
		v := r.SubCategoryScore.Float64
		out.SubCategoryScore = &v
	}
	if r.UpdatedTS.Valid {
		v := r.UpdatedTS.Timestamp
		out.UpdatedAt = &v
	}

	return out, nil
}
