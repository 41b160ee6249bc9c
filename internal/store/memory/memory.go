// Package memory is an in-memory Store implementation. It backs tests and
// sandbox-mode runs; data is lost on restart. Batch atomicity comes from a
// full snapshot taken at transaction start and restored on error.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/store"
)

// Store holds all rows behind one mutex. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// dataset is the mutable row state. externalIndex maps provider transaction
// ids to internal ids and enforces their global uniqueness.
type dataset struct {
	accounts      map[uuid.UUID]*domain.Account
	transactions  map[uuid.UUID]*domain.Transaction
	externalIndex map[string]uuid.UUID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: newDataset()}
}

func newDataset() *dataset {
	return &dataset{
		accounts:      make(map[uuid.UUID]*domain.Account),
		transactions:  make(map[uuid.UUID]*domain.Transaction),
		externalIndex: make(map[string]uuid.UUID),
	}
}

// clone makes a deep copy for snapshot rollback.
func (d *dataset) clone() *dataset {
	c := newDataset()
	for id, a := range d.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for id, t := range d.transactions {
		cp := copyTransaction(t)
		c.transactions[id] = cp
	}
	for ext, id := range d.externalIndex {
		c.externalIndex[ext] = id
	}
	return c
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	if t.Embedding != nil {
		cp.Embedding = make([]float32, len(t.Embedding))
		copy(cp.Embedding, t.Embedding)
	}
	return &cp
}

// Accounts implements the store.Tx interface.
func (s *Store) Accounts() store.AccountRepository {
	return &accountRepo{store: s, locking: true}
}

// Transactions implements the store.Tx interface.
func (s *Store) Transactions() store.TransactionRepository {
	return &transactionRepo{store: s, locking: true}
}

// WithinTx implements the store.Store interface. The whole store is locked
// for the duration of fn; on error the pre-transaction snapshot is restored.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &txView{store: s}
	if err := fn(tx); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Close implements the store.Store interface.
func (s *Store) Close() error {
	return nil
}

// txView exposes repositories that skip locking: the transaction already
// holds the store mutex.
type txView struct {
	store *Store
}

func (v *txView) Accounts() store.AccountRepository {
	return &accountRepo{store: v.store, locking: false}
}

func (v *txView) Transactions() store.TransactionRepository {
	return &transactionRepo{store: v.store, locking: false}
}

// ---------------------------------------------------------------------------
// Account repository
// ---------------------------------------------------------------------------

type accountRepo struct {
	store   *Store
	locking bool
}

func (r *accountRepo) lock() func() {
	if !r.locking {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *accountRepo) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) ListActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	defer r.lock()()
	var out []*domain.Account
	for _, a := range r.store.data.accounts {
		if a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *accountRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	defer r.lock()()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	cp := *account
	r.store.data.accounts[account.ID] = &cp
	return nil
}

func (r *accountRepo) UpdateBalances(ctx context.Context, id uuid.UUID, current, available decimal.Decimal) error {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.CurrentBalance = current
	a.AvailableBalance = available
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *accountRepo) BeginSync(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.SyncStatus == domain.SyncStatusSyncing {
		return nil, store.ErrSyncInProgress
	}
	before := *a
	a.SyncStatus = domain.SyncStatusSyncing
	a.UpdatedAt = time.Now().UTC()
	return &before, nil
}

func (r *accountRepo) FinishSync(ctx context.Context, id uuid.UUID, result store.SyncResult) error {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.SyncStatus = result.Status
	a.SyncError = result.Error
	a.SyncErrorTerminal = result.Terminal
	a.FailureCount = result.FailureCount
	if result.SyncedAt != nil {
		t := *result.SyncedAt
		a.LastSyncedAt = &t
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *accountRepo) UpdateCursor(ctx context.Context, id uuid.UUID, cursor string) error {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Cursor = cursor
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *accountRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()
	a, ok := r.store.data.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Active = false
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ---------------------------------------------------------------------------
// Transaction repository
// ---------------------------------------------------------------------------

type transactionRepo struct {
	store   *Store
	locking bool
}

func (r *transactionRepo) lock() func() {
	if !r.locking {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *transactionRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	defer r.lock()()
	id, ok := r.store.data.externalIndex[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTransaction(r.store.data.transactions[id]), nil
}

func (r *transactionRepo) Insert(ctx context.Context, txn *domain.Transaction) error {
	defer r.lock()()
	if _, exists := r.store.data.externalIndex[txn.ExternalID]; exists {
		return store.ErrDuplicateExternalID
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	r.store.data.transactions[txn.ID] = copyTransaction(txn)
	r.store.data.externalIndex[txn.ExternalID] = txn.ID
	return nil
}

func (r *transactionRepo) Update(ctx context.Context, txn *domain.Transaction) error {
	defer r.lock()()
	if _, ok := r.store.data.transactions[txn.ID]; !ok {
		return store.ErrNotFound
	}
	txn.UpdatedAt = time.Now().UTC()
	r.store.data.transactions[txn.ID] = copyTransaction(txn)
	return nil
}

func (r *transactionRepo) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	defer r.lock()()
	id, ok := r.store.data.externalIndex[externalID]
	if !ok {
		return false, nil
	}
	delete(r.store.data.transactions, id)
	delete(r.store.data.externalIndex, externalID)
	return true, nil
}

func (r *transactionRepo) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	defer r.lock()()
	count := 0
	for _, t := range r.store.data.transactions {
		if t.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	defer r.lock()()
	var out []*domain.Transaction
	for _, t := range r.store.data.transactions {
		if t.AccountID == accountID {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transactionRepo) SetUserCategory(ctx context.Context, id uuid.UUID, category string) error {
	defer r.lock()()
	t, ok := r.store.data.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	t.UserCategory = category
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *transactionRepo) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]*domain.Transaction, error) {
	defer r.lock()()

	type scored struct {
		txn   *domain.Transaction
		score float64
	}
	var matches []scored
	for _, t := range r.store.data.transactions {
		if len(t.Embedding) == 0 {
			continue
		}
		matches = append(matches, scored{copyTransaction(t), cosine(vector, t.Embedding)})
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
