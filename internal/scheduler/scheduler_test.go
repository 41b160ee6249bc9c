package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/store/memory"
)

// capturingPublisher records published jobs and can fail selected accounts.
type capturingPublisher struct {
	mu     sync.Mutex
	jobs   []*jobs.AccountSyncJob
	failOn map[uuid.UUID]bool
}

func (p *capturingPublisher) PublishAccountSync(ctx context.Context, job *jobs.AccountSyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[job.AccountID] {
		return errors.New("queue full")
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) published() []*jobs.AccountSyncJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*jobs.AccountSyncJob(nil), p.jobs...)
}

func seedAccount(t *testing.T, s *memory.Store, mutate func(*domain.Account)) *domain.Account {
	t.Helper()
	account := &domain.Account{
		UserID:     uuid.New(),
		Active:     true,
		SyncStatus: domain.SyncStatusPending,
	}
	if mutate != nil {
		mutate(account)
	}
	if err := s.Accounts().CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return account
}

func TestTick_DispatchesSyncableAccountsOnly(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	syncable := seedAccount(t, s, nil)
	seedAccount(t, s, func(a *domain.Account) { a.SyncStatus = domain.SyncStatusSyncing })
	seedAccount(t, s, func(a *domain.Account) {
		a.SyncStatus = domain.SyncStatusError
		a.SyncErrorTerminal = true
	})
	inactive := seedAccount(t, s, nil)
	if err := s.Accounts().Deactivate(ctx, inactive.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	pub := &capturingPublisher{}
	sched := New(s, pub, time.Hour, time.Minute)
	sched.Tick(ctx)

	got := pub.published()
	if len(got) != 1 {
		t.Fatalf("dispatched %d jobs, want 1", len(got))
	}
	if got[0].AccountID != syncable.ID {
		t.Errorf("dispatched account = %v, want %v", got[0].AccountID, syncable.ID)
	}
	if got[0].Trigger != "schedule" {
		t.Errorf("Trigger = %q, want schedule", got[0].Trigger)
	}
}

func TestTick_PublishFailureDoesNotStopOthers(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	first := seedAccount(t, s, nil)
	second := seedAccount(t, s, nil)

	pub := &capturingPublisher{failOn: map[uuid.UUID]bool{first.ID: true}}
	sched := New(s, pub, time.Hour, time.Minute)
	sched.Tick(ctx)

	got := pub.published()
	if len(got) != 1 || got[0].AccountID != second.ID {
		t.Errorf("dispatched %d jobs, want the non-failing account only", len(got))
	}
}

func TestTick_BudgetExhaustedDefersRemaining(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedAccount(t, s, nil)
	}

	pub := &capturingPublisher{}
	sched := New(s, pub, time.Hour, time.Nanosecond)
	// The budget context expires before dispatch starts; every account is
	// deferred to the next tick rather than dropped with an error.
	sched.Tick(ctx)

	if got := pub.published(); len(got) != 0 {
		t.Errorf("dispatched %d jobs, want 0 with exhausted budget", len(got))
	}
}

func TestStart_RejectsSecondStart(t *testing.T) {
	s := memory.New()
	sched := New(s, &capturingPublisher{}, time.Hour, time.Minute)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want already-started error")
	}
}
