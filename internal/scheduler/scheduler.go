// Package scheduler periodically enumerates active accounts and dispatches
// one sync job per account onto the worker-pool queue. One account's failure
// never aborts or delays dispatch for any other account in the same tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/store"
)

// Scheduler owns the periodic dispatch loop.
type Scheduler struct {
	store store.Store
	queue jobs.Publisher

	interval time.Duration
	// tickBudget bounds how long one tick may spend dispatching. Already
	// dispatched jobs run to completion; exceeding the budget only stops
	// new dispatches for that tick.
	tickBudget time.Duration

	cron *cron.Cron
}

// New creates a scheduler dispatching every interval. tickBudget <= 0
// defaults to half the interval.
func New(s store.Store, queue jobs.Publisher, interval, tickBudget time.Duration) *Scheduler {
	if tickBudget <= 0 {
		tickBudget = interval / 2
	}
	return &Scheduler{
		store:      s,
		queue:      queue,
		interval:   interval,
		tickBudget: tickBudget,
	}
}

// Start begins ticking. ctx is the base context for dispatches; cancelling
// it stops future dispatching but not jobs already handed to the queue.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("scheduler: already started")
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler: registering tick: %w", err)
	}
	s.cron.Start()

	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.interval).
		Msg("Scheduler started")
	return nil
}

// Stop halts ticking and waits for a tick in progress to finish dispatching.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Tick runs one dispatch pass. Exposed so a sync can also be triggered
// outside the cron cadence (tests, admin tooling).
func (s *Scheduler) Tick(ctx context.Context) {
	log := logger.FromContext(ctx)

	tickCtx, cancel := context.WithTimeout(ctx, s.tickBudget)
	defer cancel()

	accounts, err := s.store.Accounts().ListActiveAccounts(tickCtx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler tick failed to list accounts")
		return
	}

	dispatched, skipped := 0, 0
	for _, account := range accounts {
		if !account.Syncable() {
			skipped++
			continue
		}
		if tickCtx.Err() != nil {
			log.Warn().
				Int("remaining", len(accounts)-dispatched-skipped).
				Msg("Tick budget exhausted, deferring remaining accounts to next tick")
			break
		}

		job := &jobs.AccountSyncJob{AccountID: account.ID, Trigger: "schedule"}
		if err := s.queue.PublishAccountSync(tickCtx, job); err != nil {
			// Dispatch failures are per-account; keep going.
			log.Error().
				Err(err).
				Str("account_id", account.ID.String()).
				Msg("Failed to dispatch sync job")
			continue
		}
		dispatched++
	}

	log.Info().
		Int("accounts", len(accounts)).
		Int("dispatched", dispatched).
		Int("skipped", skipped).
		Msg("Scheduler tick complete")
}
