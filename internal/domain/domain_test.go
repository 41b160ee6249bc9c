package domain

import "testing"

func TestEffectiveCategory(t *testing.T) {
	tests := []struct {
		name string
		txn  Transaction
		want string
	}{
		{"assigned only", Transaction{Category: "Food & Dining"}, "Food & Dining"},
		{"override wins", Transaction{Category: "Food & Dining", UserCategory: "Business"}, "Business"},
		{"neither", Transaction{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.txn.EffectiveCategory(); got != tt.want {
				t.Errorf("EffectiveCategory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncable(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{"pending active", Account{Active: true, SyncStatus: SyncStatusPending}, true},
		{"after success", Account{Active: true, SyncStatus: SyncStatusSuccess}, true},
		{"after transient error", Account{Active: true, SyncStatus: SyncStatusError}, true},
		{"syncing", Account{Active: true, SyncStatus: SyncStatusSyncing}, false},
		{"terminal error", Account{Active: true, SyncStatus: SyncStatusError, SyncErrorTerminal: true}, false},
		{"inactive", Account{Active: false, SyncStatus: SyncStatusPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.Syncable(); got != tt.want {
				t.Errorf("Syncable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeSummary(t *testing.T) {
	var s ChangeSummary
	if !s.Empty() {
		t.Error("zero summary Empty() = false, want true")
	}

	s.Merge(ChangeSummary{Added: 2, Skipped: 1})
	s.Merge(ChangeSummary{Modified: 1, Removed: 3})

	want := ChangeSummary{Added: 2, Modified: 1, Removed: 3, Skipped: 1}
	if s != want {
		t.Errorf("after Merge = %+v, want %+v", s, want)
	}
	if s.Empty() {
		t.Error("Empty() = true after changes, want false")
	}

	// Skipped alone does not count as a store change.
	skippedOnly := ChangeSummary{Skipped: 4}
	if !skippedOnly.Empty() {
		t.Error("Empty() = false for skipped-only summary, want true")
	}
}
