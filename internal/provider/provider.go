// Package provider defines the boundary to the external bank-data provider.
// The concrete wire protocol is out of scope; the sync pipeline consumes only
// the interfaces and record types declared here.
package provider

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Record is one transaction as reported by the provider.
type Record struct {
	ExternalID   string
	Amount       decimal.Decimal
	Currency     string
	Date         civil.Date
	Description  string
	MerchantName string
	Pending      bool
}

// SyncBatch is the result of one incremental fetch page: the added, modified
// and removed sets, plus the token that resumes after this page. It is
// ephemeral: produced by the client, consumed once by reconciliation, then
// discarded.
type SyncBatch struct {
	Added    []Record
	Modified []Record
	// Removed holds external ids only; the provider reports no other data
	// for deleted transactions.
	Removed []string

	NextCursor string
	HasMore    bool
}

// RemoteAccount describes one account visible under a credential.
type RemoteAccount struct {
	ProviderAccountID string
	Name              string
	Institution       string
	CurrencyCode      string
}

// Balance is a point-in-time balance snapshot for one provider account.
type Balance struct {
	Current   decimal.Decimal
	Available decimal.Decimal
}

// Client is the provider API surface the sync pipeline depends on. All calls
// may fail with a *Error carrying the transient/permanent distinction; any
// other error is treated as transient.
type Client interface {
	// ListAccounts returns the accounts reachable with the credential.
	ListAccounts(ctx context.Context, credential string) ([]RemoteAccount, error)

	// FetchHistorical returns one page of settled transactions in
	// [start, end]. pageToken is empty for the first page; the returned
	// token is empty when no pages remain.
	FetchHistorical(ctx context.Context, credential string, start, end civil.Date, pageToken string) ([]Record, string, error)

	// FetchIncremental returns the changes since cursor. An empty cursor
	// asks for everything the provider retains.
	FetchIncremental(ctx context.Context, credential, cursor string) (SyncBatch, error)

	// GetBalances returns current balances keyed by provider account id.
	GetBalances(ctx context.Context, credential string) (map[string]Balance, error)
}
