// Package postgres resolves API tokens to principals against a Postgres user directory.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL the identity store expects. EnsureSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);
`

// IdentityStore implements classify.IdentityResolver.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("Connect: parsing database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Connect: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Connect: pinging database: %w", err)
	}
	return pool, nil
}

// NewIdentityStore connects to dsn and returns a store owning the pool.
func NewIdentityStore(ctx context.Context, dsn string) (*IdentityStore, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewIdentityStoreWithPool(pool), nil
}

// NewIdentityStoreWithPool wraps an existing pool.
func NewIdentityStoreWithPool(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// Close releases the pool.
func (s *IdentityStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the users and api_tokens tables when missing.
func (s *IdentityStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// FindByToken implements classify.IdentityResolver.
func (s *IdentityStore) FindByToken(ctx context.Context, token string) (*classify.Principal, error) {
	var p classify.Principal
	err := s.pool.QueryRow(ctx, `
SELECT u.id, u.email
FROM api_tokens t
JOIN users u ON u.id = t.user_id
WHERE t.token_hash = $1
  AND t.revoked_at IS NULL
`, classify.HashToken(token)).Scan(&p.UserID, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classify.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("FindByToken: querying token: %w", err)
	}
	return &p, nil
}

// CreateUser inserts a user, leaving an existing one untouched.
func (s *IdentityStore) CreateUser(ctx context.Context, userID, email string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, email) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`, userID, email)
	if err != nil {
		return fmt.Errorf("CreateUser: inserting %s: %w", userID, err)
	}
	return nil
}

// CreateToken issues a new API token for userID and returns it. Only the hash is stored.
func (s *IdentityStore) CreateToken(ctx context.Context, userID string) (string, error) {
	token, err := classify.NewToken()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO api_tokens (token_hash, user_id) VALUES ($1, $2)
`, classify.HashToken(token), userID)
	if err != nil {
		return "", fmt.Errorf("CreateToken: inserting token for %s: %w", userID, err)
	}
	return token, nil
}

// RevokeToken marks a token unusable.
func (s *IdentityStore) RevokeToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE api_tokens SET revoked_at = now()
WHERE token_hash = $1 AND revoked_at IS NULL
`, classify.HashToken(token))
	if err != nil {
		return fmt.Errorf("RevokeToken: updating token: %w", err)
	}
	return nil
}
