package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store) *domain.Account {
	t.Helper()
	account := &domain.Account{
		UserID:             uuid.New(),
		ProviderCredential: "cred-1",
		ProviderAccountID:  "prov-1",
		Name:               "Checking",
		CurrencyCode:       "USD",
		Active:             true,
		SyncStatus:         domain.SyncStatusPending,
	}
	if err := s.Accounts().CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return account
}

func seedTransaction(accountID uuid.UUID, externalID string) *domain.Transaction {
	return &domain.Transaction{
		AccountID:          accountID,
		ExternalID:         externalID,
		Amount:             decimal.RequireFromString("12.34"),
		Currency:           "USD",
		Date:               civil.Date{Year: 2026, Month: 8, Day: 14},
		Description:        "CARD PURCHASE",
		MerchantName:       "Acme",
		Category:           "Shopping",
		CategoryConfidence: 0.6,
		Embedding:          []float32{0.25, -1.5, 3},
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	account := seedAccount(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	stored, err := s.Accounts().GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount() after reopen error = %v", err)
	}
	if stored.Name != "Checking" {
		t.Errorf("Name = %q, want Checking", stored.Name)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	stored, err := s.Accounts().GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if stored.UserID != account.UserID {
		t.Errorf("UserID = %v, want %v", stored.UserID, account.UserID)
	}
	if stored.SyncStatus != domain.SyncStatusPending {
		t.Errorf("SyncStatus = %q, want pending", stored.SyncStatus)
	}
	if !stored.Active {
		t.Error("Active = false, want true")
	}
	if stored.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt = %v, want nil before first sync", stored.LastSyncedAt)
	}

	if err := s.Accounts().UpdateBalances(ctx, account.ID, decimal.RequireFromString("100.50"), decimal.RequireFromString("90.00")); err != nil {
		t.Fatalf("UpdateBalances() error = %v", err)
	}
	stored, _ = s.Accounts().GetAccount(ctx, account.ID)
	if !stored.CurrentBalance.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("CurrentBalance = %s, want 100.50", stored.CurrentBalance)
	}
}

func TestBeginFinishSync(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	before, err := s.Accounts().BeginSync(ctx, account.ID)
	if err != nil {
		t.Fatalf("BeginSync() error = %v", err)
	}
	if before.SyncStatus != domain.SyncStatusPending {
		t.Errorf("pre-state status = %q, want pending", before.SyncStatus)
	}

	if _, err := s.Accounts().BeginSync(ctx, account.ID); !errors.Is(err, store.ErrSyncInProgress) {
		t.Errorf("second BeginSync() error = %v, want ErrSyncInProgress", err)
	}

	syncedAt := before.CreatedAt
	result := store.SyncResult{Status: domain.SyncStatusSuccess, SyncedAt: &syncedAt}
	if err := s.Accounts().FinishSync(ctx, account.ID, result); err != nil {
		t.Fatalf("FinishSync() error = %v", err)
	}

	stored, err := s.Accounts().GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if stored.SyncStatus != domain.SyncStatusSuccess {
		t.Errorf("SyncStatus = %q, want success", stored.SyncStatus)
	}
	if stored.LastSyncedAt == nil || !stored.LastSyncedAt.Equal(syncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", stored.LastSyncedAt, syncedAt)
	}
}

func TestFinishSync_FailureFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	if _, err := s.Accounts().BeginSync(ctx, account.ID); err != nil {
		t.Fatalf("BeginSync() error = %v", err)
	}
	result := store.SyncResult{
		Status:       domain.SyncStatusError,
		Error:        "provider: CREDENTIAL_REVOKED: item revoked",
		Terminal:     true,
		FailureCount: 1,
	}
	if err := s.Accounts().FinishSync(ctx, account.ID, result); err != nil {
		t.Fatalf("FinishSync() error = %v", err)
	}

	stored, _ := s.Accounts().GetAccount(ctx, account.ID)
	if !stored.SyncErrorTerminal {
		t.Error("SyncErrorTerminal = false, want true")
	}
	if stored.SyncError == "" {
		t.Error("SyncError empty, want message persisted")
	}
	if stored.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", stored.FailureCount)
	}
	if stored.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt = %v, want untouched on failure", stored.LastSyncedAt)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	txn := seedTransaction(account.ID, "tx-1")
	if err := s.Transactions().Insert(ctx, txn); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	stored, err := s.Transactions().GetByExternalID(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if !stored.Amount.Equal(txn.Amount) {
		t.Errorf("Amount = %s, want %s", stored.Amount, txn.Amount)
	}
	if stored.Date != txn.Date {
		t.Errorf("Date = %v, want %v", stored.Date, txn.Date)
	}
	if len(stored.Embedding) != 3 || stored.Embedding[1] != -1.5 {
		t.Errorf("Embedding = %v, want %v", stored.Embedding, txn.Embedding)
	}

	if err := s.Transactions().Insert(ctx, seedTransaction(account.ID, "tx-1")); !errors.Is(err, store.ErrDuplicateExternalID) {
		t.Errorf("duplicate Insert() error = %v, want ErrDuplicateExternalID", err)
	}
}

func TestWithinTx_RollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	injected := errors.New("injected")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.Transactions().Insert(ctx, seedTransaction(account.ID, "tx-1")); err != nil {
			return err
		}
		if err := tx.Accounts().UpdateCursor(ctx, account.ID, "c9"); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		t.Fatalf("WithinTx() error = %v, want injected", err)
	}

	if _, err := s.Transactions().GetByExternalID(ctx, "tx-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByExternalID() error = %v, want ErrNotFound after rollback", err)
	}
	stored, _ := s.Accounts().GetAccount(ctx, account.ID)
	if stored.Cursor != "" {
		t.Errorf("Cursor = %q, want empty after rollback", stored.Cursor)
	}
}

func TestListByAccount_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	dates := []civil.Date{
		{Year: 2026, Month: 8, Day: 1},
		{Year: 2026, Month: 8, Day: 20},
		{Year: 2026, Month: 8, Day: 10},
	}
	for i, d := range dates {
		txn := seedTransaction(account.ID, "tx-"+string(rune('a'+i)))
		txn.Date = d
		if err := s.Transactions().Insert(ctx, txn); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	rows, err := s.Transactions().ListByAccount(ctx, account.ID, 2)
	if err != nil {
		t.Fatalf("ListByAccount() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListByAccount() returned %d rows, want 2", len(rows))
	}
	if rows[0].Date != (civil.Date{Year: 2026, Month: 8, Day: 20}) {
		t.Errorf("first row date = %v, want newest first", rows[0].Date)
	}
}

func TestSearchSimilar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s)

	near := seedTransaction(account.ID, "tx-near")
	near.Embedding = []float32{1, 0, 0}
	far := seedTransaction(account.ID, "tx-far")
	far.Embedding = []float32{0, 1, 0}
	plain := seedTransaction(account.ID, "tx-plain")
	plain.Embedding = nil

	for _, txn := range []*domain.Transaction{near, far, plain} {
		if err := s.Transactions().Insert(ctx, txn); err != nil {
			t.Fatalf("Insert(%s) error = %v", txn.ExternalID, err)
		}
	}

	results, err := s.Transactions().SearchSimilar(ctx, []float32{1, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != "tx-near" {
		t.Errorf("SearchSimilar() top = %v, want tx-near", results)
	}
}

func TestVectorCodec(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
	}{
		{"nil", nil},
		{"empty means nil", []float32{}},
		{"values", []float32{0.5, -2.25, 1e-3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeVector(encodeVector(tt.in))
			if len(tt.in) == 0 {
				if got != nil {
					t.Errorf("decodeVector() = %v, want nil", got)
				}
				return
			}
			if len(got) != len(tt.in) {
				t.Fatalf("decodeVector() len = %d, want %d", len(got), len(tt.in))
			}
			for i := range got {
				if got[i] != tt.in[i] {
					t.Errorf("decodeVector()[%d] = %v, want %v", i, got[i], tt.in[i])
				}
			}
		})
	}

	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("decodeVector() of misaligned blob != nil")
	}
}
