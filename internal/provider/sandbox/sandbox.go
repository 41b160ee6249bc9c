// Package sandbox is a deterministic in-memory provider client. It stands in
// for the real bank-data provider in local runs and demos: the data it
// returns is a pure function of the credential string, so repeated syncs
// exercise the pipeline's idempotence the way a live feed would.
package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/provider"
)

const pageSize = 50

var merchants = []struct {
	name        string
	description string
	maxAmount   float64
}{
	{"Starbucks", "STARBUCKS #4521", 12},
	{"Whole Foods", "WHOLEFDS MKT 10258", 140},
	{"Amazon", "AMZN MKTP US*2K4", 90},
	{"Uber", "UBER *TRIP", 45},
	{"Netflix", "NETFLIX.COM", 16},
	{"Shell", "SHELL OIL 5744", 70},
	{"CVS Pharmacy", "CVS/PHARMACY #882", 35},
	{"Delta", "DELTA AIR 0062341", 420},
}

// Client implements provider.Client with generated data.
type Client struct {
	// IncrementalBatch is how many new records each incremental page
	// reports.
	IncrementalBatch int
}

// New creates a sandbox client.
func New() *Client {
	return &Client{IncrementalBatch: 3}
}

// ListAccounts implements the provider.Client interface.
func (c *Client) ListAccounts(ctx context.Context, credential string) ([]provider.RemoteAccount, error) {
	return []provider.RemoteAccount{
		{
			ProviderAccountID: fmt.Sprintf("sandbox-acct-%08x", seed(credential)),
			Name:              "Sandbox Checking",
			Institution:       "Sandbox Bank",
			CurrencyCode:      "USD",
		},
	}, nil
}

// FetchHistorical implements the provider.Client interface. It generates one
// settled transaction per day over [start, end], split into fixed-size pages.
func (c *Client) FetchHistorical(ctx context.Context, credential string, start, end civil.Date, pageToken string) ([]provider.Record, string, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(pageToken, "page-"))
		if err != nil {
			return nil, "", provider.NewPermanent(provider.CodeInvalidRequest, fmt.Sprintf("bad page token %q", pageToken))
		}
		offset = n
	}

	total := end.DaysSince(start) + 1
	if total < 1 {
		total = 1
	}

	var records []provider.Record
	for i := offset; i < total && len(records) < pageSize; i++ {
		records = append(records, c.generate(credential, start.AddDays(i), i))
	}

	next := ""
	if offset+len(records) < total {
		next = fmt.Sprintf("page-%d", offset+len(records))
	}
	return records, next, nil
}

// FetchIncremental implements the provider.Client interface. Each call adds
// a small batch of fresh records and advances an integer cursor.
func (c *Client) FetchIncremental(ctx context.Context, credential, cursor string) (provider.SyncBatch, error) {
	generation := 0
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "sandbox-"))
		if err != nil {
			return provider.SyncBatch{}, provider.NewPermanent(provider.CodeInvalidRequest, fmt.Sprintf("unknown cursor %q", cursor))
		}
		generation = n
	}

	today := civil.DateOf(timeNow())
	batch := provider.SyncBatch{
		NextCursor: fmt.Sprintf("sandbox-%d", generation+1),
	}
	for i := 0; i < c.IncrementalBatch; i++ {
		batch.Added = append(batch.Added, c.generate(credential, today, generation*c.IncrementalBatch+i+1_000_000))
	}
	return batch, nil
}

// GetBalances implements the provider.Client interface.
func (c *Client) GetBalances(ctx context.Context, credential string) (map[string]provider.Balance, error) {
	rng := rand.New(rand.NewSource(int64(seed(credential))))
	current := decimal.NewFromFloat(500 + rng.Float64()*5000).Round(2)
	return map[string]provider.Balance{
		fmt.Sprintf("sandbox-acct-%08x", seed(credential)): {
			Current:   current,
			Available: current.Sub(decimal.NewFromInt(120)),
		},
	}, nil
}

// generate builds the record for (credential, date, ordinal); the same
// inputs always produce the same record.
func (c *Client) generate(credential string, date civil.Date, ordinal int) provider.Record {
	rng := rand.New(rand.NewSource(int64(seed(credential)) + int64(ordinal)))
	m := merchants[rng.Intn(len(merchants))]
	amount := decimal.NewFromFloat(1 + rng.Float64()*(m.maxAmount-1)).Round(2)

	return provider.Record{
		ExternalID:   fmt.Sprintf("sandbox-txn-%08x-%d", seed(credential), ordinal),
		Amount:       amount,
		Currency:     "USD",
		Date:         date,
		Description:  m.description,
		MerchantName: m.name,
		Pending:      false,
	}
}

// timeNow is swappable for tests.
var timeNow = time.Now

func seed(credential string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(credential))
	return h.Sum32()
}

var _ provider.Client = (*Client)(nil)
