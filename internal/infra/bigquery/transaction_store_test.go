package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramNames(params []bigquery.QueryParameter) []string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return names
}

func TestBuildUpdateQuery_CategoryOnlyClearsSubcategory(t *testing.T) {
	sql, params := buildUpdateQuery("`p.d.transactions`", "t1", "u1", classify.ClassificationUpdate{
		Category:      "Transport",
		CategoryScore: 0.7,
	})

	assert.Contains(t, sql, "UPDATE `p.d.transactions`")
	assert.Contains(t, sql, "local_category = @category")
	assert.Contains(t, sql, "WHERE transaction_id = @transaction_id")
	assert.Contains(t, sql, "AND user_id = @user_id")
	assert.Contains(t, sql, "local_sub_category = NULL")
	assert.Contains(t, sql, "sub_category_score = NULL")
	assert.Equal(t, []string{"category", "category_score", "transaction_id", "user_id"}, paramNames(params))
}

func TestBuildUpdateQuery_WithSubcategory(t *testing.T) {
	sub, score := "Groceries", 0.8
	sql, params := buildUpdateQuery("`p.d.transactions`", "t1", "u1", classify.ClassificationUpdate{
		Category:         "Food",
		CategoryScore:    0.9,
		SubCategory:      &sub,
		SubCategoryScore: &score,
	})

	assert.Contains(t, sql, "local_sub_category = @sub_category")
	assert.Contains(t, sql, "sub_category_score = @sub_category_score")
	assert.Equal(t, 1, strings.Count(sql, "updated_ts = CURRENT_TIMESTAMP()"))

	byName := map[string]interface{}{}
	for _, p := range params {
		byName[p.Name] = p.Value
	}
	assert.Equal(t, "Food", byName["category"])
	assert.Equal(t, "Groceries", byName["sub_category"])
	assert.Equal(t, 0.8, byName["sub_category_score"])
	assert.Equal(t, "t1", byName["transaction_id"])
	assert.Equal(t, "u1", byName["user_id"])
}

func TestAffectedRows(t *testing.T) {
	assert.Zero(t, affectedRows(nil))
	assert.Zero(t, affectedRows(&bigquery.JobStatus{}))
	assert.Equal(t, int64(1), affectedRows(&bigquery.JobStatus{
		Statistics: &bigquery.JobStatistics{Details: &bigquery.QueryStatistics{NumDMLAffectedRows: 1}},
	}))
}

func TestTransactionRow_ToStored(t *testing.T) {
	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	row := TransactionRow{
		TransactionID: "t1",
		UserID:        "u1",
		Name:          bigquery.NullString{StringVal: "Walmart", Valid: true},
		Amount:        big.NewRat(4250, 100),
		LocalCategory: bigquery.NullString{StringVal: "Food", Valid: true},
		CategoryScore: bigquery.NullFloat64{Float64: 0.9, Valid: true},
		UpdatedTS:     bigquery.NullTimestamp{Timestamp: updated, Valid: true},
	}

	tx, err := row.toStored()
	require.NoError(t, err)

	assert.Equal(t, "42.5", tx.Amount.String())
	require.NotNil(t, tx.LocalCategory)
	assert.Equal(t, "Food", *tx.LocalCategory)
	assert.Nil(t, tx.LocalSubCategory)
	assert.Nil(t, tx.SubCategoryScore)
	require.NotNil(t, tx.UpdatedAt)
	assert.True(t, tx.UpdatedAt.Equal(updated))
}

func TestTransactionRow_ToStored_NullColumns(t *testing.T) {
	row := TransactionRow{TransactionID: "t1", UserID: "u1"}

	tx, err := row.toStored()
	require.NoError(t, err)

	assert.Equal(t, "t1", tx.TransactionID)
	assert.Empty(t, tx.Name)
	assert.True(t, tx.Amount.IsZero())
	assert.Nil(t, tx.LocalCategory)
	assert.Nil(t, tx.UpdatedAt)
}
