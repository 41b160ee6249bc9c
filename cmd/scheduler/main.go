// The scheduler daemon periodically syncs every active linked account
// through a bounded worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/finance-sync/internal/analytics"
	"github.com/dvloznov/finance-sync/internal/categorizer"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/notify"
	"github.com/dvloznov/finance-sync/internal/provider/sandbox"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/scheduler"
	"github.com/dvloznov/finance-sync/internal/store/sqlite"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

func main() {
	log := logger.New()
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}
	db, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	cat, err := buildCategorizer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build categorizer")
	}

	// The provider client is wired to the sandbox implementation here; a
	// production deployment substitutes the real client behind the same
	// interface.
	client := sandbox.New()
	log.Info().Msg("Using sandbox provider client")

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notion.Token != "" && cfg.Notion.DatabaseID != "" {
		notifier = notify.NewNotionNotifier(cfg.Notion.Token, cfg.Notion.DatabaseID)
		log.Info().Msg("Notion notifier enabled")
	}

	var sink analytics.Sink = analytics.NopSink{}
	if cfg.Analytics.ProjectID != "" {
		bqSink, err := analytics.NewBigQuerySink(ctx, cfg.Analytics.ProjectID, cfg.Analytics.Dataset, cfg.Analytics.Table)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create analytics sink")
		}
		defer bqSink.Close()
		sink = bqSink
		log.Info().Str("project", cfg.Analytics.ProjectID).Msg("BigQuery analytics sink enabled")
	}

	engine := reconcile.NewEngine(db, cat)
	coordinator := syncer.NewCoordinator(db, client, engine, notifier, notify.NopRecalculator{}, sink, syncer.Config{
		LookbackDays:     cfg.Sync.LookbackDays,
		FailureThreshold: cfg.Sync.FailureThreshold,
	})

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.Sync.QueueBuffer, cfg.Sync.Workers, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.AccountSyncJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		_, err := coordinator.SyncAccount(ctx, syncJob.AccountID)
		if errors.Is(err, syncer.ErrSyncInProgress) {
			// Another trigger won the race; not a failure.
			return jobs.ErrSkipped
		}
		return err
	}

	if err := queue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	sched := scheduler.New(db, queue, cfg.Sync.Interval, cfg.Sync.TickBudget)
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Kick off one tick immediately instead of waiting a full interval.
	go sched.Tick(ctx)

	log.Info().
		Int("workers", cfg.Sync.Workers).
		Dur("interval", cfg.Sync.Interval).
		Msg("Sync scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	// In-flight syncs keep the base context until the pool drains; cancelling
	// first would abort them mid-run.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Sync scheduler exited")
}

func buildCategorizer(ctx context.Context, cfg config.Config) (*categorizer.Categorizer, error) {
	model := categorizer.DefaultModel()
	if cfg.Embedding.ModelURI != "" {
		loaded, err := categorizer.LoadModel(ctx, cfg.Embedding.ModelURI)
		if err != nil {
			return nil, err
		}
		model = loaded
	}

	var embedder categorizer.Embedder
	if cfg.Embedding.Provider == "gemini" {
		ge, err := categorizer.NewGeminiEmbedder(ctx, cfg.Embedding.Model)
		if err != nil {
			return nil, err
		}
		embedder = ge
	}

	return categorizer.New(ctx, model, embedder), nil
}
