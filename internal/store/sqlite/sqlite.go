// Package sqlite is the durable Store implementation. One reconciliation
// batch maps to one SQL transaction; the unique index on external_id
// enforces global dedup of provider transaction ids.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dvloznov/finance-sync/internal/store"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	provider_credential  TEXT NOT NULL,
	provider_account_id  TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	institution          TEXT NOT NULL DEFAULT '',
	currency_code        TEXT NOT NULL DEFAULT 'USD',
	current_balance      TEXT NOT NULL DEFAULT '0',
	available_balance    TEXT NOT NULL DEFAULT '0',
	cursor               TEXT NOT NULL DEFAULT '',
	sync_status          TEXT NOT NULL DEFAULT 'pending',
	last_synced_at       TEXT,
	sync_error           TEXT NOT NULL DEFAULT '',
	sync_error_terminal  INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	active               INTEGER NOT NULL DEFAULT 1,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(active);

CREATE TABLE IF NOT EXISTS transactions (
	id                   TEXT PRIMARY KEY,
	account_id           TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	external_id          TEXT NOT NULL UNIQUE,
	amount               TEXT NOT NULL,
	currency             TEXT NOT NULL DEFAULT 'USD',
	date                 TEXT NOT NULL,
	description          TEXT NOT NULL,
	merchant_name        TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL DEFAULT '',
	category_confidence  REAL NOT NULL DEFAULT 0,
	user_category        TEXT NOT NULL DEFAULT '',
	embedding            BLOB,
	pending              INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_date ON transactions(account_id, date);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_name);
`

// Store wraps a sqlite database handle.
type Store struct {
	db *sql.DB
}

// Open opens (and bootstraps, if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under the worker pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	if err := stampVersion(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func stampVersion(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_meta`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("sqlite: stamping schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("sqlite: reading schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("sqlite: schema version %d, want %d", version, schemaVersion)
	}
	return nil
}

// dbtx is the subset of *sql.DB and *sql.Tx the repositories use, so the
// same repository code serves both transactional and direct access.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Accounts implements the store.Tx interface.
func (s *Store) Accounts() store.AccountRepository {
	return &accountRepo{q: s.db}
}

// Transactions implements the store.Tx interface.
func (s *Store) Transactions() store.TransactionRepository {
	return &transactionRepo{q: s.db}
}

// WithinTx implements the store.Store interface.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(&txView{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Close implements the store.Store interface.
func (s *Store) Close() error {
	return s.db.Close()
}

type txView struct {
	q dbtx
}

func (v *txView) Accounts() store.AccountRepository {
	return &accountRepo{q: v.q}
}

func (v *txView) Transactions() store.TransactionRepository {
	return &transactionRepo{q: v.q}
}

// isUniqueViolation recognizes the driver's UNIQUE constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// encodeVector packs an embedding as little-endian float32s.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks an embedding blob; nil or malformed blobs decode to nil.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
