// Package pricing maps (vendor, model) pairs to per-token prices.
package pricing

import (
	"fmt"
	"sort"
	"strings"
)

// Entry prices one model in USD per 1K tokens. A Model ending in "*" is a
// prefix pattern matching every model that starts with the text before it.
type Entry struct {
	Vendor           string  `yaml:"vendor" json:"vendor"`
	Model            string  `yaml:"model" json:"model"`
	InputPer1K       float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K      float64 `yaml:"output_per_1k" json:"output_per_1k"`
	CachedInputPer1K float64 `yaml:"cached_input_per_1k" json:"cached_input_per_1k"`
}

// Usage is the token count a cost is computed for.
type Usage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
}

// Cost is a priced Usage in USD.
type Cost struct {
	Input       float64
	Output      float64
	CachedInput float64
}

func (c Cost) Total() float64 {
	return c.Input + c.Output + c.CachedInput
}

// Cost prices usage at e's rates.
func (e Entry) Cost(usage Usage) Cost {
	return Cost{
		Input:       float64(usage.InputTokens) / 1000 * e.InputPer1K,
		Output:      float64(usage.OutputTokens) / 1000 * e.OutputPer1K,
		CachedInput: float64(usage.CachedInputTokens) / 1000 * e.CachedInputPer1K,
	}
}

func (e Entry) isPrefix() bool {
	return strings.HasSuffix(e.Model, "*")
}

// Validate checks that e names a vendor and model and has no negative rate.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Vendor) == "" {
		return fmt.Errorf("pricing entry vendor is required")
	}
	if strings.TrimSpace(strings.TrimSuffix(e.Model, "*")) == "" {
		return fmt.Errorf("pricing entry model is required for vendor %q", e.Vendor)
	}
	if e.InputPer1K < 0 || e.OutputPer1K < 0 || e.CachedInputPer1K < 0 {
		return fmt.Errorf("pricing entry %s/%s has a negative rate", e.Vendor, e.Model)
	}
	return nil
}

// vendorAliases lists vendors that bill on another vendor's price sheet.
var vendorAliases = map[string]string{
	"azure":        "openai",
	"azure_openai": "openai",
}

type key struct {
	vendor string
	model  string
}

// Table is an immutable price list. The zero value has no entries.
type Table struct {
	exact    map[key]Entry
	prefixes []Entry
}

// NewTable builds a table from entries. Later entries replace earlier ones
// with the same vendor and model.
func NewTable(entries ...Entry) *Table {
	table := &Table{exact: make(map[key]Entry, len(entries))}
	for _, entry := range entries {
		table.add(entry)
	}
	table.sortPrefixes()
	return table
}

func (t *Table) add(entry Entry) {
	entry.Vendor = normalizeVendor(entry.Vendor)
	entry.Model = strings.ToLower(strings.TrimSpace(entry.Model))
	if entry.isPrefix() {
		for i, existing := range t.prefixes {
			if existing.Vendor == entry.Vendor && existing.Model == entry.Model {
				t.prefixes[i] = entry
				return
			}
		}
		t.prefixes = append(t.prefixes, entry)
		return
	}
	t.exact[key{vendor: entry.Vendor, model: entry.Model}] = entry
}

// Longest prefix first so the most specific pattern wins.
func (t *Table) sortPrefixes() {
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].Model) > len(t.prefixes[j].Model)
	})
}

// With returns a copy of t with overrides applied on top.
func (t *Table) With(overrides []Entry) *Table {
	out := NewTable(t.Entries()...)
	for _, entry := range overrides {
		out.add(entry)
	}
	out.sortPrefixes()
	return out
}

// Lookup finds the price for model under vendor. Vendor matching is
// case-insensitive and follows aliases; exact model names win over patterns.
func (t *Table) Lookup(vendor, model string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	vendor = normalizeVendor(vendor)
	model = strings.ToLower(strings.TrimSpace(model))
	if vendor == "" || model == "" {
		return Entry{}, false
	}
	if entry, ok := t.exact[key{vendor: vendor, model: model}]; ok {
		return entry, true
	}
	for _, entry := range t.prefixes {
		if entry.Vendor == vendor && strings.HasPrefix(model, strings.TrimSuffix(entry.Model, "*")) {
			return entry, true
		}
	}
	return Entry{}, false
}

// Entries returns every entry sorted by vendor then model.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.exact)+len(t.prefixes))
	for _, entry := range t.exact {
		out = append(out, entry)
	}
	out = append(out, t.prefixes...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func normalizeVendor(vendor string) string {
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	if alias, ok := vendorAliases[vendor]; ok {
		return alias
	}
	return vendor
}
