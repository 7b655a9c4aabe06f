// Package sqlite provides a single-file transaction and identity store for local
// development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Store implements classify.TransactionStore, classify.TransactionReader and
// classify.IdentityResolver on top of SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath and applies migrations.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("NewStore: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("NewStore: opening database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewStore: connecting to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateIfOwned implements classify.TransactionStore.
func (s *Store) UpdateIfOwned(ctx context.Context, transactionID, ownerID string, update classify.ClassificationUpdate) (int64, error) {
	// A missing subcategory clears the previous one so it never outlives its category.
	var sub sql.NullString
	var subScore sql.NullFloat64
	if update.SubCategory != nil {
		sub = sql.NullString{String: *update.SubCategory, Valid: true}
		if update.SubCategoryScore != nil {
			subScore = sql.NullFloat64{Float64: *update.SubCategoryScore, Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET local_category = ?, category_score = ?, local_sub_category = ?, sub_category_score = ?, updated_at = ?
		WHERE transaction_id = ? AND user_id = ?`,
		update.Category, update.CategoryScore, sub, subScore, time.Now().UTC(), transactionID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("UpdateIfOwned: executing update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("UpdateIfOwned: reading affected rows: %w", err)
	}
	return n, nil
}

// GetOwned implements classify.TransactionReader.
func (s *Store) GetOwned(ctx context.Context, transactionID, ownerID string) (*classify.StoredTransaction, error) {
	var (
		tx        classify.StoredTransaction
		amount    string
		category  sql.NullString
		sub       sql.NullString
		catScore  sql.NullFloat64
		subScore  sql.NullFloat64
		updatedAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, user_id, name, amount, local_category, local_sub_category,
		       category_score, sub_category_score, updated_at
		FROM transactions
		WHERE transaction_id = ? AND user_id = ?`, transactionID, ownerID).
		Scan(&tx.TransactionID, &tx.UserID, &tx.Name, &amount, &category, &sub, &catScore, &subScore, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, classify.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetOwned: querying transaction: %w", err)
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("GetOwned: parsing amount %q: %w", amount, err)
	}
	if category.Valid {
		tx.LocalCategory = &category.String
	}
	if sub.Valid {
		tx.LocalSubCategory = &sub.String
	}
	if catScore.Valid {
		tx.CategoryScore = &catScore.Float64
	}
	if subScore.Valid {
		tx.SubCategoryScore = &subScore.Float64
	}
	if updatedAt.Valid {
		tx.UpdatedAt = &updatedAt.Time
	}
	return &tx, nil
}

// InsertTransaction adds a transaction owned by userID with no classification.
func (s *Store) InsertTransaction(ctx context.Context, userID string, tx classify.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, user_id, name, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.TransactionID, userID, tx.Name, tx.Amount.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("InsertTransaction: inserting %s: %w", tx.TransactionID, err)
	}
	return nil
}

// FindByToken implements classify.IdentityResolver.
func (s *Store) FindByToken(ctx context.Context, token string) (*classify.Principal, error) {
	var p classify.Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ? AND t.revoked_at IS NULL`, classify.HashToken(token)).
		Scan(&p.UserID, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, classify.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindByToken: querying token: %w", err)
	}
	return &p, nil
}

// CreateUser inserts a user, leaving an existing one untouched.
func (s *Store) CreateUser(ctx context.Context, userID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, userID, email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("CreateUser: inserting %s: %w", userID, err)
	}
	return nil
}

// CreateToken issues a new API token for userID and returns it. Only the hash is stored.
func (s *Store) CreateToken(ctx context.Context, userID string) (string, error) {
	token, err := classify.NewToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (token_hash, user_id, created_at) VALUES (?, ?, ?)`,
		classify.HashToken(token), userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("CreateToken: inserting token for %s: %w", userID, err)
	}
	return token, nil
}

// RevokeToken marks a token unusable. Revoking an unknown token is not an error.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		time.Now().UTC(), classify.HashToken(token))
	if err != nil {
		return fmt.Errorf("RevokeToken: updating token: %w", err)
	}
	return nil
}
