package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/dvloznov/transaction-classifier/internal/config"
	"github.com/dvloznov/transaction-classifier/internal/infra/sqlite"
	"github.com/dvloznov/transaction-classifier/internal/oracle"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// dryRunStore accepts every update without writing anything.
type dryRunStore struct {
	updates atomic.Int64
}

func (s *dryRunStore) UpdateIfOwned(_ context.Context, _, _ string, _ classify.ClassificationUpdate) (int64, error) {
	s.updates.Add(1)
	return 1, nil
}

func readBatch(path string) (*classify.Batch, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var batch classify.Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if err := classify.Validate(&batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func classifyCmd() *cobra.Command {
	var (
		file      string
		oracleCfg oracle.Config
		noBar     bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Dry-run classification of a batch file",
		Long: `Classify every transaction of a batch file against the configured oracle
and print the predictions. Nothing is written to any store.

The file has the same shape as the /classify_transactions request body.

Examples:
  txc classify --file batch.json
  txc classify --file batch.json --provider anthropic --api-key $ANTHROPIC_API_KEY
  cat batch.json | txc classify --file -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			batch, err := readBatch(file)
			if err != nil {
				return err
			}

			o, err := oracle.New(ctx, oracleCfg)
			if err != nil {
				return fmt.Errorf("failed to create oracle: %w", err)
			}

			bar := newProgressBar(len(batch.Transactions), cmd.ErrOrStderr(), noBar)

			orch := classify.NewOrchestrator(o, &dryRunStore{}, log)
			report := orch.Run(ctx, classify.Run{
				JobID:     "dry-run-" + uuid.NewString(),
				Principal: classify.Principal{UserID: "dry-run"},
				Batch:     *batch,
				OnProgress: func(done int) {
					_ = bar.Set(done)
				},
			})
			_ = bar.Finish()

			printReport(cmd.OutOrStdout(), report)
			if report.Failed() > 0 {
				return fmt.Errorf("%d of %d transactions failed", report.Failed(), report.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch JSON file, or - for stdin (required)")
	cmd.Flags().StringVar(&oracleCfg.Provider, "provider", oracle.ProviderZeroShot, "oracle provider (zeroshot, gemini, anthropic)")
	cmd.Flags().StringVar(&oracleCfg.Model, "model", "", "model name for LLM providers")
	cmd.Flags().StringVar(&oracleCfg.Endpoint, "endpoint", "", "zero-shot inference endpoint")
	cmd.Flags().StringVar(&oracleCfg.APIKey, "api-key", os.Getenv("ORACLE_API_KEY"), "oracle API key (or set ORACLE_API_KEY env)")
	cmd.Flags().Float64Var(&oracleCfg.RateLimit, "rate-limit", 0, "max oracle calls per second (0 = unlimited)")
	cmd.Flags().DurationVar(&oracleCfg.Timeout, "timeout", config.DefaultOracleTimeout, "per-call oracle timeout")
	cmd.Flags().BoolVar(&noBar, "no-progress", false, "disable the progress bar")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newProgressBar(total int, w io.Writer, disabled bool) *progressbar.ProgressBar {
	if disabled {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Classifying transactions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
}

func printReport(w io.Writer, report *classify.Report) {
	for _, r := range report.Results {
		line := fmt.Sprintf("%-20s %-30s %10s  %s (%.2f)", r.TransactionID, r.Name, r.Amount.StringFixed(2), r.Category, r.CategoryScore)
		if r.SubCategory != "" {
			line += fmt.Sprintf(" / %s (%.2f)", r.SubCategory, r.SubCategoryScore)
		}
		fmt.Fprintln(w, line)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "%-20s FAILED at %s: %v\n", f.TransactionID, f.Stage, f.Err)
	}
	fmt.Fprintf(w, "\n%d classified, %d failed, %d duplicates\n", len(report.Results), report.Failed(), report.Duplicates)
}

func seedCmd() *cobra.Command {
	var (
		file       string
		userID     string
		sqlitePath string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a batch file's transactions into the local SQLite store",
		Long: `Insert the transactions of a batch file into the SQLite transaction store,
owned by --user, so the API can classify them locally.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			batch, err := readBatch(file)
			if err != nil {
				return err
			}

			store, err := sqlite.NewStore(ctx, sqlitePath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			for _, tx := range batch.Transactions {
				if err := store.InsertTransaction(ctx, userID, tx); err != nil {
					return err
				}
			}

			log.Info().Int("count", len(batch.Transactions)).Str("user_id", userID).Msg("Transactions seeded")
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d transactions for %s\n", len(batch.Transactions), userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch JSON file, or - for stdin (required)")
	cmd.Flags().StringVar(&userID, "user", "", "owning user ID (required)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", config.DefaultSQLitePath, "SQLite database path")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
