// Package notify holds the collaborators the sync coordinator signals after
// a successful run. All of them are fire-and-forget: their failures are
// logged and never surface back into sync status.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// Notifier receives account-changed signals with the run's change summary.
type Notifier interface {
	AccountChanged(ctx context.Context, accountID uuid.UUID, summary domain.ChangeSummary) error
}

// Recalculator triggers downstream budget/goal aggregation for an account.
type Recalculator interface {
	Recalculate(ctx context.Context, accountID uuid.UUID) error
}

// LogNotifier writes change summaries to the structured log. It is the
// default when no external notification channel is configured.
type LogNotifier struct{}

// AccountChanged implements the Notifier interface.
func (LogNotifier) AccountChanged(ctx context.Context, accountID uuid.UUID, summary domain.ChangeSummary) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("account_id", accountID.String()).
		Int("added", summary.Added).
		Int("modified", summary.Modified).
		Int("removed", summary.Removed).
		Msg("Account transactions changed")
	return nil
}

// NopRecalculator is the default when no budget service is wired.
type NopRecalculator struct{}

// Recalculate implements the Recalculator interface.
func (NopRecalculator) Recalculate(ctx context.Context, accountID uuid.UUID) error {
	return nil
}
