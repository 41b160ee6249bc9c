package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/store"
)

type transactionRepo struct {
	q dbtx
}

const transactionColumns = `id, account_id, external_id, amount, currency,
	date, description, merchant_name, category, category_confidence,
	user_category, embedding, pending, created_at, updated_at`

func (r *transactionRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_id = ?`, externalID)
	return scanTransaction(row)
}

func (r *transactionRepo) Insert(ctx context.Context, t *domain.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.AccountID.String(), t.ExternalID,
		t.Amount.String(), t.Currency, t.Date.String(),
		t.Description, t.MerchantName, t.Category, t.CategoryConfidence,
		t.UserCategory, encodeVector(t.Embedding), boolInt(t.Pending),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if isUniqueViolation(err) {
		return store.ErrDuplicateExternalID
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) Update(ctx context.Context, t *domain.Transaction) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET amount = ?, currency = ?, date = ?, description = ?,
		    merchant_name = ?, category = ?, category_confidence = ?,
		    user_category = ?, embedding = ?, pending = ?, updated_at = ?
		WHERE id = ?`,
		t.Amount.String(), t.Currency, t.Date.String(), t.Description,
		t.MerchantName, t.Category, t.CategoryConfidence,
		t.UserCategory, encodeVector(t.Embedding), boolInt(t.Pending),
		formatTime(t.UpdatedAt), t.ID.String())
	if err != nil {
		return fmt.Errorf("sqlite: updating transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: updating transaction: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE external_id = ?`, externalID)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting transaction: %w", err)
	}
	return affected > 0, nil
}

func (r *transactionRepo) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting transactions: %w", err)
	}
	return count, nil
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions WHERE account_id = ?
		ORDER BY date DESC, external_id`
	args := []any{accountID.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) SetUserCategory(ctx context.Context, id uuid.UUID, category string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions SET user_category = ?, updated_at = ? WHERE id = ?`,
		category, formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("sqlite: setting user category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: setting user category: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SearchSimilar ranks rows by cosine similarity computed in-process. The
// schema assumes no native vector index; candidate sets stay small because
// only embedded rows qualify.
func (r *transactionRepo) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]*domain.Transaction, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading embedded transactions: %w", err)
	}
	defer rows.Close()

	candidates, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		txn   *domain.Transaction
		score float64
	}
	matches := make([]scored, 0, len(candidates))
	for _, t := range candidates {
		matches = append(matches, scored{t, cosine(vector, t.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*domain.Transaction, len(matches))
	for i, m := range matches {
		out[i] = m.txn
	}
	return out, nil
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		t                    domain.Transaction
		idStr, accountIDStr  string
		amount, dateStr      string
		embedding            []byte
		pending              int
		createdAt, updatedAt string
	)
	err := s.Scan(&idStr, &accountIDStr, &t.ExternalID, &amount, &t.Currency,
		&dateStr, &t.Description, &t.MerchantName, &t.Category,
		&t.CategoryConfidence, &t.UserCategory, &embedding, &pending,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning transaction: %w", err)
	}

	if t.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("sqlite: transaction id %q: %w", idStr, err)
	}
	if t.AccountID, err = uuid.Parse(accountIDStr); err != nil {
		return nil, fmt.Errorf("sqlite: transaction account id %q: %w", accountIDStr, err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("sqlite: transaction amount %q: %w", amount, err)
	}
	if t.Date, err = civil.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("sqlite: transaction date %q: %w", dateStr, err)
	}
	t.Embedding = decodeVector(embedding)
	t.Pending = pending != 0
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
