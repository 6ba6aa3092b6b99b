// Package usage extracts token counts from span attributes, prices them and
// rolls them up over reconstructed trace trees.
package usage

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tracehub/tracehub/internal/hierarchy"
	"github.com/tracehub/tracehub/internal/pricing"
	"github.com/tracehub/tracehub/internal/span"
)

// Attribute keys read by the aggregator.
const (
	AttrTokenCounts          = "llm.token.counts"
	AttrInputTokens          = "gen_ai.usage.input_tokens"
	AttrPromptTokens         = "gen_ai.usage.prompt_tokens"
	AttrOutputTokens         = "gen_ai.usage.output_tokens"
	AttrCompletionTokens     = "gen_ai.usage.completion_tokens"
	AttrCachedTokens         = "gen_ai.usage.cached_tokens"
	AttrTotalTokens          = "gen_ai.usage.total_tokens"
	AttrRequestTotalTokens   = "gen_ai.request.total_tokens"
	AttrServiceType          = "langtrace.service.type"
	AttrServiceName          = "langtrace.service.name"
	AttrLLMModel             = "llm.model"
	AttrResponseModel        = "gen_ai.response.model"
	AttrRequestModel         = "gen_ai.request.model"
	ServiceTypeLLM           = "llm"
	tokenCountsInputKey      = "input_tokens"
	tokenCountsOutputKey     = "output_tokens"
	tokenCountsTotalTokenKey = "total_tokens"
)

// Tokens is a token tally.
type Tokens struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	TotalTokens       int64 `json:"total_tokens"`
}

func (t Tokens) add(other Tokens) Tokens {
	return Tokens{
		InputTokens:       t.InputTokens + other.InputTokens,
		OutputTokens:      t.OutputTokens + other.OutputTokens,
		CachedInputTokens: t.CachedInputTokens + other.CachedInputTokens,
		TotalTokens:       t.TotalTokens + other.TotalTokens,
	}
}

// Metrics is the usage and cost of one span or a rolled-up tree.
type Metrics struct {
	Tokens Tokens
	Cost   pricing.Cost
}

func (m Metrics) add(other Metrics) Metrics {
	return Metrics{
		Tokens: m.Tokens.add(other.Tokens),
		Cost: pricing.Cost{
			Input:       m.Cost.Input + other.Cost.Input,
			Output:      m.Cost.Output + other.Cost.Output,
			CachedInput: m.Cost.CachedInput + other.Cost.CachedInput,
		},
	}
}

// PriceLookup resolves a (vendor, model) price. *pricing.Table satisfies it.
type PriceLookup interface {
	Lookup(vendor, model string) (pricing.Entry, bool)
}

// Aggregator prices spans against a price list.
type Aggregator struct {
	prices PriceLookup
}

// NewAggregator returns an Aggregator; a nil lookup prices everything at 0.
func NewAggregator(prices PriceLookup) *Aggregator {
	return &Aggregator{prices: prices}
}

// SpanMetrics returns the usage and cost a single span reports.
//
// Token counts are summed across every key family present, so a span that
// reports the same quantity under two families counts it twice. Malformed
// values count as zero.
func (a *Aggregator) SpanMetrics(s span.Span) Metrics {
	attrs := s.Attributes
	if len(attrs) == 0 {
		return Metrics{}
	}

	counts := nestedCounts(attrs[AttrTokenCounts])
	tokens := Tokens{
		InputTokens: intValue(counts[tokenCountsInputKey]) +
			intValue(attrs[AttrInputTokens]) +
			intValue(attrs[AttrPromptTokens]),
		OutputTokens: intValue(counts[tokenCountsOutputKey]) +
			intValue(attrs[AttrOutputTokens]) +
			intValue(attrs[AttrCompletionTokens]),
		CachedInputTokens: intValue(attrs[AttrCachedTokens]),
		TotalTokens: intValue(counts[tokenCountsTotalTokenKey]) +
			intValue(attrs[AttrTotalTokens]) +
			intValue(attrs[AttrRequestTotalTokens]),
	}
	if tokens.TotalTokens == 0 {
		tokens.TotalTokens = tokens.InputTokens + tokens.OutputTokens
	}

	out := Metrics{Tokens: tokens}
	if !isLLMSpan(attrs) || (tokens.InputTokens <= 0 && tokens.OutputTokens <= 0) {
		return out
	}
	model := firstString(attrs, AttrLLMModel, AttrResponseModel, AttrRequestModel)
	vendor := strings.ToLower(stringValue(attrs[AttrServiceName]))
	if model == "" || vendor == "" || a == nil || a.prices == nil {
		return out
	}
	entry, ok := a.prices.Lookup(vendor, model)
	if !ok {
		return out
	}
	out.Cost = entry.Cost(pricing.Usage{
		InputTokens:       tokens.InputTokens,
		OutputTokens:      tokens.OutputTokens,
		CachedInputTokens: tokens.CachedInputTokens,
	})
	return out
}

// Aggregate sums SpanMetrics over root and every descendant.
func (a *Aggregator) Aggregate(root *hierarchy.Node) Metrics {
	var total Metrics
	root.Walk(func(node *hierarchy.Node) {
		total = total.add(a.SpanMetrics(node.Span))
	})
	return total
}

func isLLMSpan(attrs map[string]any) bool {
	return stringValue(attrs[AttrServiceType]) == ServiceTypeLLM
}

// nestedCounts accepts the usage-counts object either structured or as a
// JSON-encoded string.
func nestedCounts(value any) map[string]any {
	switch typed := value.(type) {
	case map[string]any:
		return typed
	case string:
		return span.AttributesFrom(typed)
	default:
		return nil
	}
}

func firstString(attrs map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringValue(attrs[key]); value != "" {
			return value
		}
	}
	return ""
}

func stringValue(value any) string {
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return ""
}

// intValue reads an integer the way lenient producers send it: a number, or
// a string whose leading digits form one. Anything else is zero.
func intValue(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0
		}
		return int64(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		f, err := typed.Float64()
		if err != nil {
			return 0
		}
		return intValue(f)
	case string:
		return leadingInt(typed)
	default:
		return 0
	}
}

func leadingInt(raw string) int64 {
	raw = strings.TrimSpace(raw)
	end := 0
	for end < len(raw) {
		c := raw[end]
		if (c >= '0' && c <= '9') || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	n, err := strconv.ParseInt(raw[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
