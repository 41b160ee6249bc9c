// Package store defines the persistence interfaces the sync pipeline depends
// on. Concrete implementations live in the sqlite and memory sub-packages;
// both provide the same contract: a transactional view over accounts and
// transactions where one reconciliation batch is one atomic unit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrSyncInProgress is returned by BeginSync when the account is already
// being synced. Callers reject the new attempt; they never queue it.
var ErrSyncInProgress = errors.New("store: sync already in progress")

// ErrDuplicateExternalID is returned when an insert would violate the global
// uniqueness of provider transaction ids.
var ErrDuplicateExternalID = errors.New("store: duplicate external id")

// SyncResult carries the terminal state of one sync run back onto the
// account row.
type SyncResult struct {
	Status domain.SyncStatus
	// Error is the user-visible failure message; empty on success.
	Error string
	// Terminal marks a permanent provider failure requiring re-linking.
	Terminal bool
	// FailureCount is the new consecutive-transient-failure count.
	FailureCount int
	// SyncedAt, when non-nil, stamps the last successful sync time.
	SyncedAt *time.Time
}

// AccountRepository is the account-row surface touched by the sync pipeline.
type AccountRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListActiveAccounts(ctx context.Context) ([]*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	// UpdateBalances persists refreshed balances without touching sync state.
	UpdateBalances(ctx context.Context, id uuid.UUID, current, available decimal.Decimal) error
	// BeginSync atomically flips the account to "syncing" and returns its
	// pre-claim state. It fails with ErrSyncInProgress when another run
	// holds the claim, enforcing strict per-account serialization.
	BeginSync(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// FinishSync releases the claim, applying the run's outcome.
	FinishSync(ctx context.Context, id uuid.UUID, result SyncResult) error
	// UpdateCursor advances the incremental sync cursor.
	UpdateCursor(ctx context.Context, id uuid.UUID, cursor string) error
	// Deactivate soft-deletes the account; rows are never hard-deleted.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// TransactionRepository is a view over the transaction table keyed by the
// provider's external id, the dedup key.
type TransactionRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	Insert(ctx context.Context, txn *domain.Transaction) error
	Update(ctx context.Context, txn *domain.Transaction) error
	// DeleteByExternalID removes the row and reports whether it existed;
	// deleting an absent id is a no-op, not an error.
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
	CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error)
	// SetUserCategory records a category override set by the account owner.
	SetUserCategory(ctx context.Context, id uuid.UUID, category string) error
	// SearchSimilar returns up to limit transactions nearest to vector by
	// cosine similarity. Rows without embeddings are excluded.
	SearchSimilar(ctx context.Context, vector []float32, limit int) ([]*domain.Transaction, error)
}

// Tx is the repository surface available inside one atomic unit.
type Tx interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
}

// Store is the root persistence handle. WithinTx runs fn inside one
// transaction: either every effect is durably applied or none are.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
