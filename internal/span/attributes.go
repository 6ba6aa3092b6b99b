package span

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NormalizeAttributes converts attribute values into the JSON-compatible set
// of types the rest of the system expects: string, bool, int64, float64,
// []any and map[string]any. Values of other types are dropped.
func NormalizeAttributes(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		normalized, ok := normalizeValue(value)
		if !ok {
			continue
		}
		out[key] = normalized
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeValue(value any) (any, bool) {
	switch typed := value.(type) {
	case nil:
		return nil, true
	case string, bool, int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		if typed > math.MaxInt64 {
			return float64(typed), true
		}
		return int64(typed), true
	case float32:
		return normalizeFloat(float64(typed)), true
	case float64:
		return normalizeFloat(typed), true
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, true
		}
		if f, err := typed.Float64(); err == nil {
			return normalizeFloat(f), true
		}
		return typed.String(), true
	case []byte:
		return string(typed), true
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			if normalized, ok := normalizeValue(item); ok {
				out = append(out, normalized)
			}
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			if normalized, ok := normalizeValue(item); ok {
				out[key] = normalized
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// Whole floats collapse to int64 so that a value survives a JSON round trip
// with the same Go type. NaN and infinities have no JSON form and are kept
// as their strconv spelling.
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// DecodeAttributes parses a JSON object into normalized attributes. Blank or
// malformed input yields nil and false.
func DecodeAttributes(raw []byte) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, false
	}
	return NormalizeAttributes(out), true
}

// AttributesFrom accepts attribute data in any of the shapes producers send:
// an already-structured map, a JSON object encoded as a string, or raw bytes.
// Malformed data yields nil.
func AttributesFrom(value any) map[string]any {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return NormalizeAttributes(typed)
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}
		out, _ := DecodeAttributes([]byte(typed))
		return out
	case []byte:
		out, _ := DecodeAttributes(typed)
		return out
	case json.RawMessage:
		out, _ := DecodeAttributes(typed)
		return out
	default:
		return nil
	}
}

// EncodeAttributes renders attributes as a JSON object; nil renders as "{}".
func EncodeAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
