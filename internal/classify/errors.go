package classify

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request whose shape is invalid.
	ErrValidation = errors.New("validation error")
	// ErrMissingCredentials marks an absent or malformed Authorization header.
	ErrMissingCredentials = errors.New("missing or malformed bearer token")
	// ErrUnauthorized marks a token that does not resolve to a principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClassification marks an oracle failure or a malformed oracle answer.
	ErrClassification = errors.New("classification failure")
	// ErrPersistence marks a failed store update.
	ErrPersistence = errors.New("persistence failure")

	// ErrPrincipalNotFound is returned by identity resolvers for unknown tokens.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrTransactionNotFound is returned by readers for missing or foreign transactions.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ValidationError carries a caller-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Pipeline stages recorded on a TransactionFailure.
const (
	StageCategory    = "category"
	StageSubcategory = "subcategory"
	StagePersist     = "persist"
	StageCanceled    = "canceled"
)

// TransactionFailure records why one transaction of a batch was not classified.
type TransactionFailure struct {
	TransactionID string
	Stage         string
	Err           error
}

func (f *TransactionFailure) Error() string {
	return fmt.Sprintf("transaction %s: %s: %v", f.TransactionID, f.Stage, f.Err)
}

func (f *TransactionFailure) Unwrap() error {
	return f.Err
}
