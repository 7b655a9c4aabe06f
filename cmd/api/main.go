package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/api"
	"github.com/dvloznov/transaction-classifier/internal/api/handlers"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/dvloznov/transaction-classifier/internal/config"
	infraBQ "github.com/dvloznov/transaction-classifier/internal/infra/bigquery"
	"github.com/dvloznov/transaction-classifier/internal/infra/postgres"
	"github.com/dvloznov/transaction-classifier/internal/infra/sqlite"
	"github.com/dvloznov/transaction-classifier/internal/jobs"
	"github.com/dvloznov/transaction-classifier/internal/jobs/inmemory"
	"github.com/dvloznov/transaction-classifier/internal/logger"
	"github.com/dvloznov/transaction-classifier/internal/oracle"
	"github.com/dvloznov/transaction-classifier/internal/resultlog"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type transactionBackend interface {
	classify.TransactionStore
	classify.TransactionReader
}

type backends struct {
	transactions transactionBackend
	identity     classify.IdentityResolver
	closers      []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	var (
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
		configPath = flag.String("config", "", "Path to YAML config file (or set CONFIG_PATH env)")
	)
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("CONFIG_PATH", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}

	log := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	stores, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer stores.close()

	classifier, err := oracle.New(ctx, oracle.Config{
		Provider:  cfg.OracleProvider,
		Model:     cfg.OracleModel,
		Endpoint:  cfg.OracleEndpoint,
		APIKey:    cfg.ProviderAPIKey(),
		Timeout:   cfg.OracleTimeout,
		RateLimit: cfg.OracleRateLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create classification oracle")
	}

	sink, closeSink, err := newResultSink(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create result sink")
	}
	defer closeSink()

	orchestrator := classify.NewOrchestrator(classifier, stores.transactions, log, classify.WithResultSink(sink))

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.WorkerCount),
		inmemory.WithJobTimeout(cfg.JobTimeout),
		inmemory.WithLogger(log),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.WorkerCount).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, jobs.NewClassifyHandler(orchestrator, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	scheduler := cron.New()
	pruner := jobs.NewPruner(jobStore, cfg.JobRetention, log)
	if _, err := pruner.Schedule(workerCtx, scheduler, jobs.DefaultPruneSchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule job pruning")
	}
	scheduler.Start()

	router := api.NewRouter(api.Dependencies{
		Authenticator: classify.NewAuthenticator(stores.identity),
		Publisher:     jobQueue,
		JobStore:      jobStore,
		Transactions:  stores.transactions,
		MaxBodyBytes:  handlers.DefaultMaxBodyBytes,
		Log:           log,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("storage", cfg.StorageBackend).
			Str("identity", cfg.IdentityBackend).
			Str("oracle", cfg.OracleProvider).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	<-scheduler.Stop().Done()

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

func openBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}

	var local *sqlite.Store
	openLocal := func() (*sqlite.Store, error) {
		if local != nil {
			return local, nil
		}
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		local = s
		return s, nil
	}

	switch cfg.StorageBackend {
	case config.BackendBigQuery:
		s, err := infraBQ.NewTransactionStore(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		b.transactions = s
	case config.BackendSQLite:
		s, err := openLocal()
		if err != nil {
			b.close()
			return nil, err
		}
		b.transactions = s
	}

	switch cfg.IdentityBackend {
	case config.BackendPostgres:
		s, err := postgres.NewIdentityStore(ctx, cfg.DatabaseURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		b.identity = s
	case config.BackendSQLite:
		s, err := openLocal()
		if err != nil {
			b.close()
			return nil, err
		}
		b.identity = s
	}

	log.Debug().
		Str("storage", cfg.StorageBackend).
		Str("identity", cfg.IdentityBackend).
		Msg("Stores opened")
	return b, nil
}

func newResultSink(ctx context.Context, cfg *config.Config, log zerolog.Logger) (classify.ResultSink, func(), error) {
	sinks := resultlog.Multi{resultlog.NewLogSink(log)}
	if cfg.ResultsBucket == "" {
		return sinks, func() {}, nil
	}

	w, err := resultlog.NewBucketWriter(ctx, cfg.ResultsBucket)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("bucket", cfg.ResultsBucket).Msg("Archiving classification reports")
	return append(sinks, resultlog.NewGCSSink(w)), func() { _ = w.Close() }, nil
}
