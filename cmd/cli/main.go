package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/transaction-classifier/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	log       = zerolog.Nop()

	rootCmd = &cobra.Command{
		Use:   "txc",
		Short: "Transaction classifier admin CLI",
		Long: `txc manages API tokens for the transaction classification service,
seeds a local SQLite store, and dry-runs classification batches offline.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			log = logger.NewWithConfig(logLevel, logFormat)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(classifyCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
