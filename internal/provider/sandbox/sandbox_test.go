package sandbox

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-sync/internal/provider"
)

func TestFetchHistorical_Pagination(t *testing.T) {
	c := New()
	ctx := context.Background()
	start := civil.Date{Year: 2026, Month: 6, Day: 1}
	end := start.AddDays(119)

	var all []provider.Record
	pageToken := ""
	pages := 0
	for {
		records, next, err := c.FetchHistorical(ctx, "cred-1", start, end, pageToken)
		if err != nil {
			t.Fatalf("FetchHistorical() error = %v", err)
		}
		all = append(all, records...)
		pages++
		if next == "" {
			break
		}
		pageToken = next
	}

	if len(all) != 120 {
		t.Errorf("total records = %d, want one per day (120)", len(all))
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3 at page size %d", pages, pageSize)
	}

	seen := make(map[string]bool, len(all))
	for _, rec := range all {
		if seen[rec.ExternalID] {
			t.Fatalf("duplicate external id %q across pages", rec.ExternalID)
		}
		seen[rec.ExternalID] = true
		if rec.Date.Before(start) || end.Before(rec.Date) {
			t.Errorf("record date %v outside [%v, %v]", rec.Date, start, end)
		}
	}
}

func TestFetchHistorical_Deterministic(t *testing.T) {
	c := New()
	ctx := context.Background()
	start := civil.Date{Year: 2026, Month: 8, Day: 1}
	end := start.AddDays(9)

	first, _, err := c.FetchHistorical(ctx, "cred-1", start, end, "")
	if err != nil {
		t.Fatalf("FetchHistorical() error = %v", err)
	}
	second, _, err := c.FetchHistorical(ctx, "cred-1", start, end, "")
	if err != nil {
		t.Fatalf("FetchHistorical() replay error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("replay returned %d records, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].ExternalID != second[i].ExternalID ||
			first[i].Date != second[i].Date ||
			first[i].Description != second[i].Description ||
			!first[i].Amount.Equal(second[i].Amount) {
			t.Errorf("record %d differs between identical calls", i)
		}
	}

	other, _, err := c.FetchHistorical(ctx, "cred-2", start, end, "")
	if err != nil {
		t.Fatalf("FetchHistorical() error = %v", err)
	}
	if first[0].ExternalID == other[0].ExternalID {
		t.Error("different credentials produced the same external ids")
	}
}

func TestFetchHistorical_BadPageToken(t *testing.T) {
	c := New()
	_, _, err := c.FetchHistorical(context.Background(), "cred-1",
		civil.Date{Year: 2026, Month: 8, Day: 1}, civil.Date{Year: 2026, Month: 8, Day: 2}, "garbage")
	if !provider.IsPermanent(err) {
		t.Errorf("FetchHistorical() error = %v, want permanent invalid-request", err)
	}
}

func TestFetchIncremental_AdvancesCursor(t *testing.T) {
	c := New()
	ctx := context.Background()

	first, err := c.FetchIncremental(ctx, "cred-1", "")
	if err != nil {
		t.Fatalf("FetchIncremental() error = %v", err)
	}
	if first.NextCursor != "sandbox-1" {
		t.Errorf("NextCursor = %q, want sandbox-1", first.NextCursor)
	}
	if len(first.Added) != c.IncrementalBatch {
		t.Errorf("Added = %d records, want %d", len(first.Added), c.IncrementalBatch)
	}
	if first.HasMore {
		t.Error("HasMore = true, want false")
	}

	second, err := c.FetchIncremental(ctx, "cred-1", first.NextCursor)
	if err != nil {
		t.Fatalf("FetchIncremental() error = %v", err)
	}
	if second.NextCursor != "sandbox-2" {
		t.Errorf("NextCursor = %q, want sandbox-2", second.NextCursor)
	}
	for _, prev := range first.Added {
		for _, rec := range second.Added {
			if rec.ExternalID == prev.ExternalID {
				t.Errorf("generation 2 repeated external id %q", rec.ExternalID)
			}
		}
	}

	if _, err := c.FetchIncremental(ctx, "cred-1", "bogus"); !provider.IsPermanent(err) {
		t.Errorf("FetchIncremental() error = %v, want permanent for unknown cursor", err)
	}
}

func TestGetBalances_MatchesListedAccount(t *testing.T) {
	c := New()
	ctx := context.Background()

	accounts, err := c.ListAccounts(ctx, "cred-1")
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("ListAccounts() = %d accounts, want 1", len(accounts))
	}

	balances, err := c.GetBalances(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetBalances() error = %v", err)
	}
	balance, ok := balances[accounts[0].ProviderAccountID]
	if !ok {
		t.Fatalf("no balance for listed account %q", accounts[0].ProviderAccountID)
	}
	if balance.Current.LessThanOrEqual(balance.Available) {
		t.Errorf("Current = %s, Available = %s, want available below current", balance.Current, balance.Available)
	}
}
