package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncStatus is the per-account synchronization state.
type SyncStatus string

const (
	// SyncStatusPending means the account has been linked but never synced.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSyncing means a sync run is currently in flight.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusSuccess means the last sync run completed cleanly.
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusError means the last sync run failed in a user-visible way.
	SyncStatusError SyncStatus = "error"
)

// Account is one linked external financial account. Cursor and all sync_*
// fields are mutated only by the sync coordinator; at most one run may hold
// status "syncing" at any time.
type Account struct {
	ID     uuid.UUID
	UserID uuid.UUID

	// ProviderCredential is the opaque access token issued when the user
	// linked this account. Treated as a blob; never logged.
	ProviderCredential string
	// ProviderAccountID is the provider's id for the underlying account.
	ProviderAccountID string

	Name         string
	Institution  string
	CurrencyCode string

	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.Decimal

	// Cursor is the provider-issued incremental sync token. Empty means no
	// incremental sync has completed yet.
	Cursor string

	SyncStatus   SyncStatus
	LastSyncedAt *time.Time
	// SyncError holds the last user-visible sync failure message.
	SyncError string
	// SyncErrorTerminal marks a permanent failure (revoked credential);
	// the scheduler never retries a terminal account.
	SyncErrorTerminal bool
	// FailureCount counts consecutive transient failures since the last
	// successful run.
	FailureCount int

	// Active is cleared when the user unlinks the account. Rows are never
	// hard-deleted.
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Syncable reports whether the scheduler should dispatch a sync for this
// account.
func (a *Account) Syncable() bool {
	return a.Active && !a.SyncErrorTerminal && a.SyncStatus != SyncStatusSyncing
}
