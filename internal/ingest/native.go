package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tracehub/tracehub/internal/span"
)

// Field aliases accepted in the native format. The snake_case names are the
// canonical ones; SDKs written in camelCase languages send the others.
var (
	nativeTraceIDKeys    = []string{"trace_id", "traceId"}
	nativeSpanIDKeys     = []string{"span_id", "spanId"}
	nativeParentIDKeys   = []string{"parent_id", "parentId", "parent_span_id", "parentSpanId"}
	nativeNameKeys       = []string{"name"}
	nativeStartTimeKeys  = []string{"start_time", "startTime"}
	nativeEndTimeKeys    = []string{"end_time", "endTime"}
	nativeKindKeys       = []string{"kind"}
	nativeAttributesKeys = []string{"attributes"}
	nativeProjectIDKeys  = []string{"project_id"}
)

// Timestamp layouts accepted for string-typed native timestamps.
var nativeTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// decodeNative decodes a native JSON payload: an array of span objects, an
// array of such arrays (one per trace), or a single span object.
func decodeNative(body []byte) ([]span.Span, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, decodeError(FormatNative, "body is required", errEmptyBody)
	}

	objects, err := nativeObjects(body)
	if err != nil {
		return nil, decodeError(FormatNative, "malformed json", err)
	}

	out := make([]span.Span, 0, len(objects))
	for _, object := range objects {
		out = append(out, nativeSpanFromObject(object))
	}
	return out, nil
}

func nativeObjects(raw json.RawMessage) ([]map[string]json.RawMessage, error) {
	switch raw[0] {
	case '{':
		var object map[string]json.RawMessage
		if err := json.Unmarshal(raw, &object); err != nil {
			return nil, err
		}
		return []map[string]json.RawMessage{object}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]map[string]json.RawMessage, 0, len(items))
		for idx, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || bytes.Equal(item, []byte("null")) {
				continue
			}
			if item[0] != '{' && item[0] != '[' {
				return nil, fmt.Errorf("item %d is not a span object", idx)
			}
			nested, err := nativeObjects(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", idx, err)
			}
			out = append(out, nested...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a span object or array")
	}
}

func nativeSpanFromObject(object map[string]json.RawMessage) span.Span {
	return span.Span{
		TraceID:    rawString(field(object, nativeTraceIDKeys...)),
		SpanID:     rawString(field(object, nativeSpanIDKeys...)),
		ParentID:   rawString(field(object, nativeParentIDKeys...)),
		Name:       rawString(field(object, nativeNameKeys...)),
		StartTime:  rawTimestamp(field(object, nativeStartTimeKeys...)),
		EndTime:    rawTimestamp(field(object, nativeEndTimeKeys...)),
		Kind:       rawKind(field(object, nativeKindKeys...)),
		Attributes: rawAttributes(field(object, nativeAttributesKeys...)),
		ProjectID:  rawString(field(object, nativeProjectIDKeys...)),
	}
}

func field(object map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, key := range keys {
		if value, ok := object[key]; ok && !isNull(value) {
			return value
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// rawString reads a JSON string; numbers are kept as their literal text.
func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return value
	}
	trimmed := strings.TrimSpace(string(raw))
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return trimmed
	}
	return ""
}

// rawTimestamp accepts RFC3339 strings, integer Unix nanoseconds (as a number
// or numeric string) and [seconds, nanoseconds] pairs. Unreadable values give
// the zero time rather than failing the batch.
func rawTimestamp(raw json.RawMessage) time.Time {
	if isNull(raw) {
		return time.Time{}
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return time.Time{}
		}
		return parseTimestampString(value)
	case '[':
		var pair []json.Number
		if err := json.Unmarshal(trimmed, &pair); err != nil || len(pair) != 2 {
			return time.Time{}
		}
		seconds, errSec := pair[0].Int64()
		nanos, errNanos := pair[1].Int64()
		if errSec != nil || errNanos != nil {
			return time.Time{}
		}
		return time.Unix(seconds, nanos).UTC()
	default:
		return unixNanosFromNumber(json.Number(trimmed))
	}
}

func parseTimestampString(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts := unixNanosFromNumber(json.Number(value)); !ts.IsZero() {
		return ts
	}
	for _, layout := range nativeTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func unixNanosFromNumber(number json.Number) time.Time {
	if nanos, err := number.Int64(); err == nil {
		return time.Unix(0, nanos).UTC()
	}
	if f, err := number.Float64(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) < math.MaxInt64 {
		return time.Unix(0, int64(f)).UTC()
	}
	return time.Time{}
}

func rawKind(raw json.RawMessage) span.Kind {
	if isNull(raw) {
		return span.KindUnspecified
	}
	var code json.Number
	if err := json.Unmarshal(raw, &code); err == nil {
		if n, err := code.Int64(); err == nil {
			return span.KindFromCode(n)
		}
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return span.ParseKind(name)
	}
	return span.KindUnspecified
}

// rawAttributes accepts an object or a JSON-encoded object string. Malformed
// data contributes nothing; the span itself is still kept.
func rawAttributes(raw json.RawMessage) map[string]any {
	if isNull(raw) {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil
		}
		return span.AttributesFrom(encoded)
	}
	attrs, _ := span.DecodeAttributes(trimmed)
	return attrs
}
