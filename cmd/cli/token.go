package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/dvloznov/transaction-classifier/internal/config"
	"github.com/dvloznov/transaction-classifier/internal/infra/postgres"
	"github.com/dvloznov/transaction-classifier/internal/infra/sqlite"
	"github.com/spf13/cobra"
)

// tokenIssuer is implemented by both identity stores.
type tokenIssuer interface {
	CreateUser(ctx context.Context, userID, email string) error
	CreateToken(ctx context.Context, userID string) (string, error)
	RevokeToken(ctx context.Context, token string) error
}

type identityFlags struct {
	backend     string
	sqlitePath  string
	databaseURL string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", config.BackendSQLite, "identity backend (sqlite, postgres)")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", config.DefaultSQLitePath, "SQLite database path")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (or set DATABASE_URL env)")
}

func (f *identityFlags) open(ctx context.Context) (tokenIssuer, func(), error) {
	switch f.backend {
	case config.BackendSQLite:
		s, err := sqlite.NewStore(ctx, f.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		if f.databaseURL == "" {
			return nil, nil, errors.New("--database-url is required for the postgres backend")
		}
		s, err := postgres.NewIdentityStore(ctx, f.databaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", f.backend)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(tokenCreateCmd())
	cmd.AddCommand(tokenRevokeCmd())
	return cmd
}

func tokenCreateCmd() *cobra.Command {
	var (
		flags  identityFlags
		userID string
		email  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (if needed) and issue a bearer token",
		Long: `Issue a new API token for a user. The token is printed once; only its
SHA-256 hash is stored.

Examples:
  txc token create --user u_123 --email me@example.com
  txc token create --user u_123 --backend postgres --database-url postgres://...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			issuer, closeFn, err := flags.open(ctx)
			if err != nil {
				return fmt.Errorf("failed to open identity store: %w", err)
			}
			defer closeFn()

			if err := issuer.CreateUser(ctx, userID, email); err != nil {
				return err
			}
			token, err := issuer.CreateToken(ctx, userID)
			if err != nil {
				return err
			}

			log.Info().Str("user_id", userID).Str("backend", flags.backend).Msg("Token issued")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"user_id": userID,
				"token":   token,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			issuer, closeFn, err := flags.open(ctx)
			if err != nil {
				return fmt.Errorf("failed to open identity store: %w", err)
			}
			defer closeFn()

			if err := issuer.RevokeToken(ctx, args[0]); err != nil {
				return err
			}
			log.Info().Str("token_hash", classify.HashToken(args[0])).Msg("Token revoked")
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
