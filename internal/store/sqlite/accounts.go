package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/store"
)

type accountRepo struct {
	q dbtx
}

const accountColumns = `id, user_id, provider_credential, provider_account_id,
	name, institution, currency_code, current_balance, available_balance,
	cursor, sync_status, last_synced_at, sync_error, sync_error_terminal,
	failure_count, active, created_at, updated_at`

func (r *accountRepo) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	return scanAccount(row)
}

func (r *accountRepo) ListActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing active accounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *accountRepo) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.SyncStatus == "" {
		a.SyncStatus = domain.SyncStatusPending
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.UserID.String(), a.ProviderCredential, a.ProviderAccountID,
		a.Name, a.Institution, a.CurrencyCode,
		a.CurrentBalance.String(), a.AvailableBalance.String(),
		a.Cursor, string(a.SyncStatus), nullTime(a.LastSyncedAt),
		a.SyncError, boolInt(a.SyncErrorTerminal), a.FailureCount,
		boolInt(a.Active), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: inserting account: %w", err)
	}
	return nil
}

func (r *accountRepo) UpdateBalances(ctx context.Context, id uuid.UUID, current, available decimal.Decimal) error {
	return r.exec(ctx, `
		UPDATE accounts
		SET current_balance = ?, available_balance = ?, updated_at = ?
		WHERE id = ?`,
		current.String(), available.String(), formatTime(time.Now().UTC()), id.String())
}

// BeginSync claims the account with a conditional update so two concurrent
// attempts cannot both observe a non-syncing status.
func (r *accountRepo) BeginSync(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	before, err := r.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.SyncStatus == domain.SyncStatusSyncing {
		return nil, store.ErrSyncInProgress
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts
		SET sync_status = ?, updated_at = ?
		WHERE id = ? AND sync_status != ?`,
		string(domain.SyncStatusSyncing), formatTime(time.Now().UTC()),
		id.String(), string(domain.SyncStatusSyncing))
	if err != nil {
		return nil, fmt.Errorf("sqlite: claiming sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: claiming sync: %w", err)
	}
	if affected == 0 {
		return nil, store.ErrSyncInProgress
	}
	return before, nil
}

func (r *accountRepo) FinishSync(ctx context.Context, id uuid.UUID, result store.SyncResult) error {
	if result.SyncedAt != nil {
		return r.exec(ctx, `
			UPDATE accounts
			SET sync_status = ?, sync_error = ?, sync_error_terminal = ?,
			    failure_count = ?, last_synced_at = ?, updated_at = ?
			WHERE id = ?`,
			string(result.Status), result.Error, boolInt(result.Terminal),
			result.FailureCount, formatTime(*result.SyncedAt),
			formatTime(time.Now().UTC()), id.String())
	}
	return r.exec(ctx, `
		UPDATE accounts
		SET sync_status = ?, sync_error = ?, sync_error_terminal = ?,
		    failure_count = ?, updated_at = ?
		WHERE id = ?`,
		string(result.Status), result.Error, boolInt(result.Terminal),
		result.FailureCount, formatTime(time.Now().UTC()), id.String())
}

func (r *accountRepo) UpdateCursor(ctx context.Context, id uuid.UUID, cursor string) error {
	return r.exec(ctx, `
		UPDATE accounts SET cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, formatTime(time.Now().UTC()), id.String())
}

func (r *accountRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE accounts SET active = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id.String())
}

// exec runs an update that must touch exactly one row.
func (r *accountRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: updating account: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a                        domain.Account
		idStr, userIDStr         string
		currentBal, availableBal string
		status                   string
		lastSynced               sql.NullString
		terminal, active         int
		createdAt, updatedAt     string
	)
	err := s.Scan(&idStr, &userIDStr, &a.ProviderCredential, &a.ProviderAccountID,
		&a.Name, &a.Institution, &a.CurrencyCode, &currentBal, &availableBal,
		&a.Cursor, &status, &lastSynced, &a.SyncError, &terminal,
		&a.FailureCount, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning account: %w", err)
	}

	if a.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("sqlite: account id %q: %w", idStr, err)
	}
	if a.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("sqlite: account user id %q: %w", userIDStr, err)
	}
	if a.CurrentBalance, err = decimal.NewFromString(currentBal); err != nil {
		return nil, fmt.Errorf("sqlite: account balance %q: %w", currentBal, err)
	}
	if a.AvailableBalance, err = decimal.NewFromString(availableBal); err != nil {
		return nil, fmt.Errorf("sqlite: account balance %q: %w", availableBal, err)
	}
	a.SyncStatus = domain.SyncStatus(status)
	a.SyncErrorTerminal = terminal != 0
	a.Active = active != 0
	if lastSynced.Valid {
		t, err := parseTime(lastSynced.String)
		if err != nil {
			return nil, err
		}
		a.LastSyncedAt = &t
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
