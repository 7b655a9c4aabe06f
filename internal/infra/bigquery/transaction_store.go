package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// TransactionStore reads and conditionally updates transactions in BigQuery.
type TransactionStore struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewTransactionStore creates a store with its own BigQuery client.
func NewTransactionStore(ctx context.Context, projectID, datasetID string) (*TransactionStore, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewTransactionStore: bigquery client: %w", err)
	}
	return NewTransactionStoreWithClient(client, projectID, datasetID), nil
}

// NewTransactionStoreWithClient creates a store using the provided BigQuery client.
func NewTransactionStoreWithClient(client *bigquery.Client, projectID, datasetID string) *TransactionStore {
	return &TransactionStore{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}
}

// Close closes the underlying BigQuery client.
func (s *TransactionStore) Close() error {
	return s.client.Close()
}

func (s *TransactionStore) table() string {
	return "`" + s.projectID + "." + s.datasetID + "." + transactionsTable + "`"
}

// UpdateIfOwned implements classify.TransactionStore. The UPDATE matches on both
// transaction_id and user_id, so a foreign or unknown transaction yields 0.
func (s *TransactionStore) UpdateIfOwned(ctx context.Context, transactionID, ownerID string, update classify.ClassificationUpdate) (int64, error) {
	sql, params := buildUpdateQuery(s.table(), transactionID, ownerID, update)

	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("UpdateIfOwned: running update query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("UpdateIfOwned: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("UpdateIfOwned: job error: %w", err)
	}

	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

// buildUpdateQuery renders the parameterized UPDATE for one classification.
// Without a subcategory both subcategory columns are reset to NULL.
func buildUpdateQuery(table, transactionID, ownerID string, update classify.ClassificationUpdate) (string, []bigquery.QueryParameter) {
	set := []string{
		"local_category = @category",
		"category_score = @category_score",
	}
	params := []bigquery.QueryParameter{
		{Name: "category", Value: update.Category},
		{Name: "category_score", Value: update.CategoryScore},
	}

	switch {
	case update.SubCategory == nil:
		set = append(set, "local_sub_category = NULL", "sub_category_score = NULL")
	case update.SubCategoryScore == nil:
		set = append(set, "local_sub_category = @sub_category", "sub_category_score = NULL")
		params = append(params, bigquery.QueryParameter{Name: "sub_category", Value: *update.SubCategory})
	default:
		set = append(set, "local_sub_category = @sub_category", "sub_category_score = @sub_category_score")
		params = append(params,
			bigquery.QueryParameter{Name: "sub_category", Value: *update.SubCategory},
			bigquery.QueryParameter{Name: "sub_category_score", Value: *update.SubCategoryScore},
		)
	}

	set = append(set, "updated_ts = CURRENT_TIMESTAMP()")
	params = append(params,
		bigquery.QueryParameter{Name: "transaction_id", Value: transactionID},
		bigquery.QueryParameter{Name: "user_id", Value: ownerID},
	)

	sql := fmt.Sprintf(`
		UPDATE %s
		SET %s
		WHERE transaction_id = @transaction_id
		  AND user_id = @user_id
	`, table, strings.Join(set, ",\n\t\t    "))

	return sql, params
}

// GetOwned implements classify.TransactionReader.
func (s *TransactionStore) GetOwned(ctx context.Context, transactionID, ownerID string) (*classify.StoredTransaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			user_id,
			name,
			amount,
			local_category,
			local_sub_category,
			category_score,
			sub_category_score,
			updated_ts
		FROM %s
		WHERE transaction_id = @transaction_id
		  AND user_id = @user_id
		LIMIT 1
	`, s.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: transactionID},
		{Name: "user_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetOwned: query read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, classify.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetOwned: iter next: %w", err)
	}

	tx, err := row.toStored()
	if err != nil {
		return nil, fmt.Errorf("GetOwned: %w", err)
	}
	return tx, nil
}

var (
	_ classify.TransactionStore  = (*TransactionStore)(nil)
	_ classify.TransactionReader = (*TransactionStore)(nil)
)
