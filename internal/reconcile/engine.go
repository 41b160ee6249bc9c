// Package reconcile applies provider change batches to the local transaction
// store. One batch is one atomic unit: every insert, update and delete for
// the batch, plus the matching cursor advancement, commits together or not
// at all, so a failed batch leaves the cursor unadvanced and safe to retry.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/categorizer"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/store"
)

// Engine reconciles provider batches against the store.
type Engine struct {
	store store.Store
	cat   *categorizer.Categorizer
}

// NewEngine creates a reconciliation engine.
func NewEngine(s store.Store, cat *categorizer.Categorizer) *Engine {
	return &Engine{store: s, cat: cat}
}

// classified is a provider record with its classification and embedding
// precomputed. Classification and embedding run before the batch transaction
// opens so that no network call happens under the store lock.
type classified struct {
	rec        provider.Record
	category   string
	confidence float64
	embedding  []float32
	// classify reports whether category/confidence should be applied on
	// update (false when a user override was observed).
	classify bool
}

// Reconcile applies one batch for one account. Processing order is added,
// then modified, then removed, so a record that is both modified and removed
// in the same batch ends up removed. Malformed records are skipped and
// counted, never fatal. When batch.NextCursor is set it is persisted in the
// same transaction as the batch's effects.
func (e *Engine) Reconcile(ctx context.Context, account *domain.Account, batch provider.SyncBatch) (domain.ChangeSummary, error) {
	log := logger.FromContext(ctx).With().Str("account_id", account.ID.String()).Logger()

	var summary domain.ChangeSummary

	added := e.prepare(ctx, account, batch.Added, &summary)
	modified := e.prepare(ctx, account, batch.Modified, &summary)

	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		txns := tx.Transactions()

		for _, c := range added {
			inserted, err := e.insertIfAbsent(ctx, txns, account, c)
			if err != nil {
				return err
			}
			if inserted {
				summary.Added++
			}
		}

		for _, c := range modified {
			existing, err := txns.GetByExternalID(ctx, c.rec.ExternalID)
			if errors.Is(err, store.ErrNotFound) {
				// Providers may report modifications to records
				// never delivered as adds, e.g. after a gap;
				// treat them as implicit adds.
				if err := txns.Insert(ctx, e.materialize(ctx, account, c)); err != nil {
					return fmt.Errorf("reconcile: implicit add %s: %w", c.rec.ExternalID, err)
				}
				summary.Added++
				continue
			}
			if err != nil {
				return fmt.Errorf("reconcile: looking up %s: %w", c.rec.ExternalID, err)
			}

			applyRecord(existing, c.rec)
			if existing.UserCategory == "" && c.classify {
				existing.Category = c.category
				existing.CategoryConfidence = c.confidence
			}
			if c.embedding != nil {
				existing.Embedding = c.embedding
			}
			if err := txns.Update(ctx, existing); err != nil {
				return fmt.Errorf("reconcile: updating %s: %w", c.rec.ExternalID, err)
			}
			summary.Modified++
		}

		for _, externalID := range batch.Removed {
			if externalID == "" {
				summary.Skipped++
				continue
			}
			existed, err := txns.DeleteByExternalID(ctx, externalID)
			if err != nil {
				return fmt.Errorf("reconcile: removing %s: %w", externalID, err)
			}
			if existed {
				summary.Removed++
			}
		}

		if batch.NextCursor != "" {
			if err := tx.Accounts().UpdateCursor(ctx, account.ID, batch.NextCursor); err != nil {
				return fmt.Errorf("reconcile: advancing cursor: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.ChangeSummary{}, err
	}

	if summary.Skipped > 0 {
		log.Warn().
			Int("skipped", summary.Skipped).
			Msg("Skipped malformed provider records during reconciliation")
	}
	log.Debug().
		Int("added", summary.Added).
		Int("modified", summary.Modified).
		Int("removed", summary.Removed).
		Msg("Reconciled provider batch")

	return summary, nil
}

// prepare validates records and precomputes classification and embeddings
// outside the batch transaction. Duplicate external ids within one slice
// collapse to the first occurrence.
func (e *Engine) prepare(ctx context.Context, account *domain.Account, records []provider.Record, summary *domain.ChangeSummary) []classified {
	log := logger.FromContext(ctx)

	out := make([]classified, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := validateRecord(rec); err != nil {
			log.Warn().
				Err(err).
				Str("account_id", account.ID.String()).
				Str("external_id", rec.ExternalID).
				Msg("Skipping malformed provider record")
			summary.Skipped++
			continue
		}
		if seen[rec.ExternalID] {
			continue
		}
		seen[rec.ExternalID] = true

		c := classified{rec: rec, classify: true}

		// A user override makes re-classification pointless; checking
		// here also skips the embedding round-trip for those rows.
		existing, err := e.store.Transactions().GetByExternalID(ctx, rec.ExternalID)
		if err == nil && existing.UserCategory != "" {
			c.classify = false
		}

		if c.classify {
			c.category, c.confidence = e.cat.Classify(ctx, rec.Description, rec.MerchantName, rec.Amount)
		}
		if vec, ok := e.cat.Embed(ctx, embeddingText(rec)); ok {
			c.embedding = vec
		}
		out = append(out, c)
	}
	return out
}

// insertIfAbsent materializes an added record unless its external id is
// already stored, which makes re-running the same added batch safe.
func (e *Engine) insertIfAbsent(ctx context.Context, txns store.TransactionRepository, account *domain.Account, c classified) (bool, error) {
	_, err := txns.GetByExternalID(ctx, c.rec.ExternalID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("reconcile: looking up %s: %w", c.rec.ExternalID, err)
	}
	if err := txns.Insert(ctx, e.materialize(ctx, account, c)); err != nil {
		return false, fmt.Errorf("reconcile: inserting %s: %w", c.rec.ExternalID, err)
	}
	return true, nil
}

// materialize builds a new store row from a prepared record.
func (e *Engine) materialize(ctx context.Context, account *domain.Account, c classified) *domain.Transaction {
	category, confidence := c.category, c.confidence
	if !c.classify {
		// The row vanished between preparation and the implicit add;
		// classify now rather than store it uncategorized.
		category, confidence = e.cat.Classify(ctx, c.rec.Description, c.rec.MerchantName, c.rec.Amount)
	}
	return &domain.Transaction{
		AccountID:          account.ID,
		ExternalID:         c.rec.ExternalID,
		Amount:             c.rec.Amount,
		Currency:           c.rec.Currency,
		Date:               c.rec.Date,
		Description:        c.rec.Description,
		MerchantName:       c.rec.MerchantName,
		Category:           category,
		CategoryConfidence: confidence,
		Embedding:          c.embedding,
		Pending:            c.rec.Pending,
	}
}

// applyRecord copies the provider-owned fields onto an existing row.
// Category fields are handled by the caller because of override rules.
func applyRecord(t *domain.Transaction, rec provider.Record) {
	t.Amount = rec.Amount
	t.Currency = rec.Currency
	t.Date = rec.Date
	t.Description = rec.Description
	t.MerchantName = rec.MerchantName
	t.Pending = rec.Pending
}

// validateRecord rejects records the store cannot represent.
func validateRecord(rec provider.Record) error {
	if rec.ExternalID == "" {
		return errors.New("missing external id")
	}
	if !rec.Date.IsValid() {
		return fmt.Errorf("invalid date %v", rec.Date)
	}
	if rec.Description == "" {
		return errors.New("missing description")
	}
	return nil
}

// embeddingText is the text embedded for semantic search.
func embeddingText(rec provider.Record) string {
	if rec.MerchantName == "" {
		return rec.Description
	}
	return rec.Description + " " + rec.MerchantName
}
