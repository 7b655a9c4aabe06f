package classify

import (
	"fmt"
	"strings"
)

const requiredMessage = "transactions and categories are required"

// Validate checks that a batch carries a non-empty transaction list and taxonomy,
// and that every transaction is identifiable.
func Validate(b *Batch) error {
	if b == nil || len(b.Transactions) == 0 || b.Categories.Len() == 0 {
		return &ValidationError{Message: requiredMessage}
	}

	for i, tx := range b.Transactions {
		if strings.TrimSpace(tx.TransactionID) == "" {
			return &ValidationError{Message: fmt.Sprintf("transactions[%d]: transaction_id is required", i)}
		}
	}

	return nil
}
