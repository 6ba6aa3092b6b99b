package pricing

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestDefaultLookupExactAndPrefix(t *testing.T) {
	t.Parallel()

	table := Default()
	tests := []struct {
		vendor    string
		model     string
		wantInput float64
		wantOK    bool
	}{
		{vendor: "openai", model: "gpt-4o", wantInput: 0.005, wantOK: true},
		{vendor: "OpenAI", model: "GPT-4o-mini", wantInput: 0.00015, wantOK: true},
		{vendor: "openai", model: "gpt-4o-mini-2024-07-18", wantInput: 0.00015, wantOK: true},
		{vendor: "openai", model: "gpt-4o-2024-08-06", wantInput: 0.0025, wantOK: true},
		{vendor: "azure", model: "gpt-4o", wantInput: 0.005, wantOK: true},
		{vendor: "anthropic", model: "claude-3-5-sonnet-20241022", wantInput: 0.003, wantOK: true},
		{vendor: "anthropic", model: "claude-3-haiku-20240307", wantInput: 0.00025, wantOK: true},
		{vendor: "openai", model: "claude-3-haiku-20240307", wantOK: false},
		{vendor: "acme", model: "gpt-4o", wantOK: false},
		{vendor: "", model: "gpt-4o", wantOK: false},
		{vendor: "openai", model: "", wantOK: false},
	}
	for _, tc := range tests {
		entry, ok := table.Lookup(tc.vendor, tc.model)
		if ok != tc.wantOK {
			t.Fatalf("Lookup(%q, %q) ok=%v, want %v", tc.vendor, tc.model, ok, tc.wantOK)
		}
		if ok && !almostEqual(entry.InputPer1K, tc.wantInput) {
			t.Fatalf("Lookup(%q, %q) input=%v, want %v", tc.vendor, tc.model, entry.InputPer1K, tc.wantInput)
		}
	}
}

func TestEntryCost(t *testing.T) {
	t.Parallel()

	entry := Entry{Vendor: "openai", Model: "m", InputPer1K: 0.01, OutputPer1K: 0.03, CachedInputPer1K: 0.005}
	cost := entry.Cost(Usage{InputTokens: 2000, OutputTokens: 500, CachedInputTokens: 1000})
	if !almostEqual(cost.Input, 0.02) || !almostEqual(cost.Output, 0.015) || !almostEqual(cost.CachedInput, 0.005) {
		t.Fatalf("cost=%+v", cost)
	}
	if !almostEqual(cost.Total(), 0.04) {
		t.Fatalf("total=%v, want 0.04", cost.Total())
	}
}

func TestWithOverridesAndAdds(t *testing.T) {
	t.Parallel()

	base := Default()
	table := base.With([]Entry{
		{Vendor: "OpenAI", Model: "gpt-4o", InputPer1K: 1, OutputPer1K: 2},
		{Vendor: "acme", Model: "rocket-*", InputPer1K: 3},
	})

	entry, ok := table.Lookup("openai", "gpt-4o")
	if !ok || entry.InputPer1K != 1 {
		t.Fatalf("override lookup=%+v ok=%v", entry, ok)
	}
	entry, ok = table.Lookup("acme", "rocket-2")
	if !ok || entry.InputPer1K != 3 {
		t.Fatalf("added prefix lookup=%+v ok=%v", entry, ok)
	}

	// The base table is left untouched.
	entry, _ = base.Lookup("openai", "gpt-4o")
	if entry.InputPer1K != 0.005 {
		t.Fatalf("base input=%v, want 0.005", entry.InputPer1K)
	}
}

func TestEntriesSortedAndComplete(t *testing.T) {
	t.Parallel()

	entries := Default().Entries()
	if len(entries) != len(defaultEntries) {
		t.Fatalf("len(entries)=%d, want %d", len(entries), len(defaultEntries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.Vendor > cur.Vendor || (prev.Vendor == cur.Vendor && prev.Model > cur.Model) {
			t.Fatalf("entries out of order at %d: %s/%s before %s/%s", i, prev.Vendor, prev.Model, cur.Vendor, cur.Model)
		}
	}
}

func TestEntryValidate(t *testing.T) {
	t.Parallel()

	if err := (Entry{Vendor: "openai", Model: "gpt-4o", InputPer1K: 1}).Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	for _, entry := range []Entry{
		{Model: "x"},
		{Vendor: "v"},
		{Vendor: "v", Model: "*"},
		{Vendor: "v", Model: "m", OutputPer1K: -1},
	} {
		if err := entry.Validate(); err == nil {
			t.Fatalf("Validate(%+v) expected error", entry)
		}
	}
}

func TestNilTableLookup(t *testing.T) {
	t.Parallel()

	var table *Table
	if _, ok := table.Lookup("openai", "gpt-4o"); ok {
		t.Fatal("nil table should not resolve prices")
	}
}
