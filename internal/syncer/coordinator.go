// Package syncer owns per-account sync state: it decides between historical
// and incremental fetches, drives the provider client and the reconciliation
// engine, and persists account-level sync status and errors.
//
// State machine per account: pending → syncing → {success, error}, and back
// to syncing on the next trigger. A sync request while the account is already
// syncing is rejected with store.ErrSyncInProgress, never queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/analytics"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/notify"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/store"
)

// ErrSyncInProgress mirrors the store sentinel for callers that only import
// this package.
var ErrSyncInProgress = store.ErrSyncInProgress

// Config tunes coordinator behavior.
type Config struct {
	// LookbackDays bounds the historical window of a first sync.
	LookbackDays int
	// FailureThreshold is how many consecutive transient failures are
	// tolerated before the account surfaces an error status.
	FailureThreshold int
	// MaxPages caps pagination loops as protection against a provider
	// that never stops reporting more pages. 0 means no cap.
	MaxPages int
}

// DefaultConfig matches the provider's standard retention window.
func DefaultConfig() Config {
	return Config{LookbackDays: 90, FailureThreshold: 3, MaxPages: 500}
}

// Coordinator runs syncs for individual accounts.
type Coordinator struct {
	store     store.Store
	client    provider.Client
	engine    *reconcile.Engine
	notifier  notify.Notifier
	recalc    notify.Recalculator
	analytics analytics.Sink
	cfg       Config

	// now is swappable for tests.
	now func() time.Time
}

// NewCoordinator wires a coordinator. notifier, recalc and sink may be nil;
// nil collaborators default to log/no-op implementations.
func NewCoordinator(s store.Store, client provider.Client, engine *reconcile.Engine, notifier notify.Notifier, recalc notify.Recalculator, sink analytics.Sink, cfg Config) *Coordinator {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if recalc == nil {
		recalc = notify.NopRecalculator{}
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig().LookbackDays
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &Coordinator{
		store:     s,
		client:    client,
		engine:    engine,
		notifier:  notifier,
		recalc:    recalc,
		analytics: sink,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SyncAccount runs one sync for the account. It returns ErrSyncInProgress
// when another run holds the claim. Any fetch or reconcile fault is isolated
// to this account: it lands in the account's sync_status/sync_error fields
// and is also returned to the caller.
func (c *Coordinator) SyncAccount(ctx context.Context, accountID uuid.UUID) (domain.ChangeSummary, error) {
	log := logger.FromContext(ctx).With().Str("account_id", accountID.String()).Logger()
	ctx = logger.WithContext(ctx, log)

	account, err := c.store.Accounts().BeginSync(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrSyncInProgress) {
			log.Debug().Msg("Sync already in progress, rejecting attempt")
		}
		return domain.ChangeSummary{}, err
	}

	startedAt := c.now().UTC()
	log.Info().Str("mode", c.mode(account)).Msg("Starting account sync")

	summary, runErr := c.run(ctx, account)

	if runErr != nil {
		c.finishFailure(ctx, account, runErr)
		c.record(ctx, account, "error", summary, runErr, startedAt)
		return summary, runErr
	}

	// The outcome is written on a detached context: the syncing claim must be
	// released even when the run's own context has already been cancelled.
	syncedAt := c.now().UTC()
	err = c.store.Accounts().FinishSync(context.WithoutCancel(ctx), account.ID, store.SyncResult{
		Status:   domain.SyncStatusSuccess,
		SyncedAt: &syncedAt,
	})
	if err != nil {
		return summary, fmt.Errorf("syncer: finishing sync: %w", err)
	}

	log.Info().
		Int("added", summary.Added).
		Int("modified", summary.Modified).
		Int("removed", summary.Removed).
		Int("skipped", summary.Skipped).
		Msg("Account sync succeeded")

	c.refreshBalances(ctx, account)
	c.fanOut(ctx, account.ID, summary)
	c.record(ctx, account, "success", summary, nil, startedAt)

	return summary, nil
}

// mode names the fetch strategy for logging.
func (c *Coordinator) mode(account *domain.Account) string {
	if c.isFirstSync(account) {
		return "historical"
	}
	return "incremental"
}

// isFirstSync reports whether the account has never completed a sync. A
// historical backfill fabricates no cursor, so the successful-run timestamp
// is part of the check: once any run has succeeded, subsequent syncs use the
// incremental API (an empty cursor asks the provider for its full retention).
func (c *Coordinator) isFirstSync(account *domain.Account) bool {
	return account.Cursor == "" && account.LastSyncedAt == nil
}

// run executes the fetch/reconcile loop for one account.
func (c *Coordinator) run(ctx context.Context, account *domain.Account) (domain.ChangeSummary, error) {
	if c.isFirstSync(account) {
		return c.runHistorical(ctx, account)
	}
	return c.runIncremental(ctx, account)
}

// runHistorical pulls the look-back window page by page, then feeds the
// whole result as one synthetic added batch. No cursor is produced.
func (c *Coordinator) runHistorical(ctx context.Context, account *domain.Account) (domain.ChangeSummary, error) {
	end := civil.DateOf(c.now().UTC())
	start := end.AddDays(-c.cfg.LookbackDays)

	var records []provider.Record
	pageToken := ""
	for page := 0; ; page++ {
		if c.cfg.MaxPages > 0 && page >= c.cfg.MaxPages {
			return domain.ChangeSummary{}, fmt.Errorf("syncer: historical fetch exceeded %d pages", c.cfg.MaxPages)
		}
		pageRecords, next, err := c.client.FetchHistorical(ctx, account.ProviderCredential, start, end, pageToken)
		if err != nil {
			return domain.ChangeSummary{}, fmt.Errorf("syncer: historical fetch: %w", err)
		}
		records = append(records, pageRecords...)
		if next == "" {
			break
		}
		pageToken = next
	}

	summary, err := c.engine.Reconcile(ctx, account, provider.SyncBatch{Added: records})
	if err != nil {
		return domain.ChangeSummary{}, fmt.Errorf("syncer: reconciling historical batch: %w", err)
	}
	return summary, nil
}

// runIncremental loops the provider's cursor-based fetch. Each page's
// reconciliation commits together with that page's cursor, so a failure
// leaves the cursor on the last durably applied page and the next run
// retries from there.
func (c *Coordinator) runIncremental(ctx context.Context, account *domain.Account) (domain.ChangeSummary, error) {
	var summary domain.ChangeSummary

	cursor := account.Cursor
	for page := 0; ; page++ {
		if c.cfg.MaxPages > 0 && page >= c.cfg.MaxPages {
			return summary, fmt.Errorf("syncer: incremental fetch exceeded %d pages", c.cfg.MaxPages)
		}
		batch, err := c.client.FetchIncremental(ctx, account.ProviderCredential, cursor)
		if err != nil {
			return summary, fmt.Errorf("syncer: incremental fetch: %w", err)
		}

		pageSummary, err := c.engine.Reconcile(ctx, account, batch)
		if err != nil {
			return summary, fmt.Errorf("syncer: reconciling incremental batch: %w", err)
		}
		summary.Merge(pageSummary)

		if batch.NextCursor != "" {
			cursor = batch.NextCursor
		}
		if !batch.HasMore {
			return summary, nil
		}
	}
}

// finishFailure applies the error taxonomy. Permanent faults mark the
// account terminal immediately. Transient faults stay invisible until the
// consecutive-failure threshold is reached; below it the account returns to
// its previous resting status so a single flaky tick alarms nobody.
func (c *Coordinator) finishFailure(ctx context.Context, account *domain.Account, runErr error) {
	log := logger.FromContext(ctx)

	result := store.SyncResult{FailureCount: account.FailureCount + 1}
	switch {
	case provider.IsPermanent(runErr):
		result.Status = domain.SyncStatusError
		result.Error = runErr.Error()
		result.Terminal = true
	case result.FailureCount >= c.cfg.FailureThreshold:
		result.Status = domain.SyncStatusError
		result.Error = runErr.Error()
	default:
		result.Status = domain.SyncStatusPending
		if account.LastSyncedAt != nil {
			result.Status = domain.SyncStatusSuccess
		}
	}

	log.Error().
		Err(runErr).
		Str("status", string(result.Status)).
		Bool("terminal", result.Terminal).
		Int("failure_count", result.FailureCount).
		Msg("Account sync failed")

	// Detached from cancellation for the same reason as the success path: a
	// run aborted by its caller still has to release the syncing claim.
	if err := c.store.Accounts().FinishSync(context.WithoutCancel(ctx), account.ID, result); err != nil {
		log.Error().Err(err).Msg("Failed to persist sync failure")
	}
}

// refreshBalances updates stored balances after a successful run. Balance
// refresh is best-effort: the reconciled data is already committed, so a
// failure here is logged and the run stays successful.
func (c *Coordinator) refreshBalances(ctx context.Context, account *domain.Account) {
	log := logger.FromContext(ctx)

	balances, err := c.client.GetBalances(ctx, account.ProviderCredential)
	if err != nil {
		log.Warn().Err(err).Msg("Balance refresh failed")
		return
	}
	balance, ok := balances[account.ProviderAccountID]
	if !ok {
		return
	}
	if err := c.store.Accounts().UpdateBalances(ctx, account.ID, balance.Current, balance.Available); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed balances")
	}
}

// fanOut signals external collaborators that this account changed. The
// signals are fire-and-forget: they run detached from the sync's context and
// their failures never reach sync status.
func (c *Coordinator) fanOut(ctx context.Context, accountID uuid.UUID, summary domain.ChangeSummary) {
	log := logger.FromContext(ctx)
	detached := logger.WithContext(context.WithoutCancel(ctx), log)

	go func() {
		if err := c.notifier.AccountChanged(detached, accountID, summary); err != nil {
			log.Warn().Err(err).Msg("Notification dispatch failed")
		}
	}()
	go func() {
		if err := c.recalc.Recalculate(detached, accountID); err != nil {
			log.Warn().Err(err).Msg("Budget recalculation trigger failed")
		}
	}()
}

// record streams the run into the analytics sink, best-effort.
func (c *Coordinator) record(ctx context.Context, account *domain.Account, status string, summary domain.ChangeSummary, runErr error, startedAt time.Time) {
	run := analytics.SyncRun{
		RunID:      uuid.NewString(),
		AccountID:  account.ID.String(),
		Status:     status,
		Added:      summary.Added,
		Modified:   summary.Modified,
		Removed:    summary.Removed,
		Skipped:    summary.Skipped,
		StartedAt:  startedAt,
		FinishedAt: c.now().UTC(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	log := logger.FromContext(ctx)
	detached := logger.WithContext(context.WithoutCancel(ctx), log)
	go func() {
		if err := c.analytics.RecordSyncRun(detached, run); err != nil {
			log.Warn().Err(err).Msg("Failed to record sync run")
		}
	}()
}
