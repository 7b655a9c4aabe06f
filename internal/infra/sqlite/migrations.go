package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema change, applied at most once.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE api_tokens (
					token_hash TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id),
					created_at TIMESTAMP NOT NULL,
					revoked_at TIMESTAMP
				);

				CREATE TABLE transactions (
					transaction_id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					amount TEXT NOT NULL,
					local_category TEXT,
					local_sub_category TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP
				);

				CREATE INDEX idx_transactions_user ON transactions(user_id);
				CREATE INDEX idx_api_tokens_user ON api_tokens(user_id);
			`)
			return err
		},
	},
	{
		Version:     2,
		Description: "Add classification scores",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`ALTER TABLE transactions ADD COLUMN category_score REAL`); err != nil {
				return err
			}
			_, err := tx.Exec(`ALTER TABLE transactions ADD COLUMN sub_category_score REAL`)
			return err
		},
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("migrate: creating migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: beginning migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Up(tx); err != nil {
		return fmt.Errorf("migrate: applying migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("migrate: recording migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
