package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one financial movement as stored locally. ExternalID is the
// provider's stable id and is unique across the whole store, not just per
// account: it is the dedup key for reconciliation.
type Transaction struct {
	ID        uuid.UUID
	AccountID uuid.UUID

	ExternalID string

	// Amount follows the provider sign convention: positive for money out
	// (expenses), negative for money in (income, refunds).
	Amount   decimal.Decimal
	Currency string
	Date     civil.Date

	Description  string
	MerchantName string

	Category           string
	CategoryConfidence float64
	// UserCategory is a category the account owner set by hand. When
	// non-empty it takes precedence and automated re-classification must
	// never touch Category underneath it.
	UserCategory string

	// Embedding is the semantic search vector. Nil is valid: the row is
	// simply excluded from similarity search.
	Embedding []float32

	Pending bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveCategory returns the user override when present, otherwise the
// assigned category.
func (t *Transaction) EffectiveCategory() string {
	if t.UserCategory != "" {
		return t.UserCategory
	}
	return t.Category
}

// ChangeSummary reports what one reconciliation pass (or one whole sync run,
// when accumulated across pages) did to the store.
type ChangeSummary struct {
	Added    int
	Modified int
	Removed  int
	// Skipped counts malformed provider records dropped without aborting
	// the batch.
	Skipped int
}

// Merge adds another summary into this one.
func (s *ChangeSummary) Merge(other ChangeSummary) {
	s.Added += other.Added
	s.Modified += other.Modified
	s.Removed += other.Removed
	s.Skipped += other.Skipped
}

// Empty reports whether the summary records no store changes.
func (s ChangeSummary) Empty() bool {
	return s.Added == 0 && s.Modified == 0 && s.Removed == 0
}
