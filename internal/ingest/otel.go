package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tracehub/tracehub/internal/span"
)

// Attribute keys used to carry OTLP fields that have no canonical column.
const (
	AttrServiceName   = "service.name"
	AttrStatusCode    = "otel.status_code"
	AttrStatusMessage = "otel.status_message"
	AttrEvents        = "otel.events"
	AttrScopeName     = "otel.scope.name"
)

// otelSpan is the format-neutral intermediate both OTLP decoders produce.
// Identifiers are still in wire form (hex or base64) and kind may be symbolic.
type otelSpan struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	Kind         string
	Start        time.Time
	End          time.Time
	Attributes   map[string]any
	Events       []any
	StatusCode   string
	StatusMsg    string
	Resource     map[string]any
	ScopeName    string
}

// mapOTELSpan applies the OpenTelemetry field mapping: identifiers that
// arrive base64 encoded become hex, symbolic kinds become numeric codes and
// resource/status/event data is folded into attributes.
func mapOTELSpan(in otelSpan) span.Span {
	attrs := make(map[string]any, len(in.Attributes)+4)
	for key, value := range in.Attributes {
		attrs[key] = value
	}
	if serviceName, ok := in.Resource[AttrServiceName]; ok {
		if _, exists := attrs[AttrServiceName]; !exists {
			attrs[AttrServiceName] = serviceName
		}
	}
	if in.ScopeName != "" {
		if _, exists := attrs[AttrScopeName]; !exists {
			attrs[AttrScopeName] = in.ScopeName
		}
	}
	if in.StatusCode != "" {
		attrs[AttrStatusCode] = in.StatusCode
	}
	if in.StatusMsg != "" {
		attrs[AttrStatusMessage] = in.StatusMsg
	}
	if len(in.Events) > 0 {
		attrs[AttrEvents] = in.Events
	}

	return span.Span{
		TraceID:    span.HexIdentifier(in.TraceID),
		SpanID:     span.HexIdentifier(in.SpanID),
		ParentID:   span.HexIdentifier(in.ParentSpanID),
		Name:       in.Name,
		StartTime:  in.Start,
		EndTime:    in.End,
		Kind:       span.ParseKind(in.Kind),
		Attributes: attrs,
	}
}

// OTLP/JSON trace export shape. Integer fields may arrive as JSON numbers or
// strings, enums as numbers or names, so those stay raw until mapping.
type otlpJSONTraces struct {
	ResourceSpans []otlpJSONResourceSpans `json:"resourceSpans"`
}

type otlpJSONResourceSpans struct {
	Resource struct {
		Attributes []otlpJSONKeyValue `json:"attributes"`
	} `json:"resource"`
	ScopeSpans []otlpJSONScopeSpans `json:"scopeSpans"`
	// Exporters older than OTLP 0.19 used this name for scopeSpans.
	InstrumentationLibrarySpans []otlpJSONScopeSpans `json:"instrumentationLibrarySpans"`
}

type otlpJSONScopeSpans struct {
	Scope struct {
		Name string `json:"name"`
	} `json:"scope"`
	Spans []otlpJSONSpan `json:"spans"`
}

type otlpJSONSpan struct {
	TraceID           string             `json:"traceId"`
	SpanID            string             `json:"spanId"`
	ParentSpanID      string             `json:"parentSpanId"`
	Name              string             `json:"name"`
	Kind              json.RawMessage    `json:"kind"`
	StartTimeUnixNano json.RawMessage    `json:"startTimeUnixNano"`
	EndTimeUnixNano   json.RawMessage    `json:"endTimeUnixNano"`
	Attributes        []otlpJSONKeyValue `json:"attributes"`
	Events            []otlpJSONEvent    `json:"events"`
	Status            *otlpJSONStatus    `json:"status"`
}

type otlpJSONEvent struct {
	TimeUnixNano json.RawMessage    `json:"timeUnixNano"`
	Name         string             `json:"name"`
	Attributes   []otlpJSONKeyValue `json:"attributes"`
}

type otlpJSONStatus struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

type otlpJSONKeyValue struct {
	Key   string           `json:"key"`
	Value otlpJSONAnyValue `json:"value"`
}

type otlpJSONAnyValue struct {
	StringValue *string         `json:"stringValue"`
	BoolValue   *bool           `json:"boolValue"`
	IntValue    json.RawMessage `json:"intValue"`
	DoubleValue json.RawMessage `json:"doubleValue"`
	BytesValue  *string         `json:"bytesValue"`
	ArrayValue  *struct {
		Values []otlpJSONAnyValue `json:"values"`
	} `json:"arrayValue"`
	KvlistValue *struct {
		Values []otlpJSONKeyValue `json:"values"`
	} `json:"kvlistValue"`
}

// decodeOTELJSON flattens every span of every resource and scope, in
// encounter order.
func decodeOTELJSON(body []byte) ([]span.Span, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, decodeError(FormatOTELJSON, "body is required", errEmptyBody)
	}
	var payload otlpJSONTraces
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, decodeError(FormatOTELJSON, "malformed json", err)
	}

	var out []span.Span
	for _, resourceSpans := range payload.ResourceSpans {
		resource := jsonKeyValues(resourceSpans.Resource.Attributes)
		scopes := append(append([]otlpJSONScopeSpans(nil), resourceSpans.ScopeSpans...), resourceSpans.InstrumentationLibrarySpans...)
		for _, scopeSpans := range scopes {
			for _, item := range scopeSpans.Spans {
				out = append(out, mapOTELSpan(otelSpanFromJSON(item, resource, scopeSpans.Scope.Name)))
			}
		}
	}
	return out, nil
}

func otelSpanFromJSON(in otlpJSONSpan, resource map[string]any, scopeName string) otelSpan {
	out := otelSpan{
		TraceID:      in.TraceID,
		SpanID:       in.SpanID,
		ParentSpanID: in.ParentSpanID,
		Name:         in.Name,
		Kind:         rawEnum(in.Kind),
		Start:        jsonUnixNano(in.StartTimeUnixNano),
		End:          jsonUnixNano(in.EndTimeUnixNano),
		Attributes:   jsonKeyValues(in.Attributes),
		Resource:     resource,
		ScopeName:    scopeName,
	}
	for _, event := range in.Events {
		item := map[string]any{
			"name": event.Name,
		}
		if ts := jsonUnixNano(event.TimeUnixNano); !ts.IsZero() {
			item["time"] = ts.Format(time.RFC3339Nano)
		}
		if attrs := jsonKeyValues(event.Attributes); len(attrs) > 0 {
			item["attributes"] = attrs
		}
		out.Events = append(out.Events, item)
	}
	if in.Status != nil {
		out.StatusCode = statusCodeName(rawEnum(in.Status.Code))
		out.StatusMsg = in.Status.Message
	}
	return out
}

// rawEnum renders a JSON enum value (number or name) as a string.
func rawEnum(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	return strings.TrimSpace(string(raw))
}

func jsonUnixNano(raw json.RawMessage) time.Time {
	value := rawEnum(raw)
	if value == "" {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func jsonKeyValues(values []otlpJSONKeyValue) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for _, kv := range values {
		if kv.Key == "" {
			continue
		}
		out[kv.Key] = jsonAnyValue(kv.Value)
	}
	return out
}

func jsonAnyValue(value otlpJSONAnyValue) any {
	switch {
	case value.StringValue != nil:
		return *value.StringValue
	case value.BoolValue != nil:
		return *value.BoolValue
	case !isNull(value.IntValue):
		n, err := strconv.ParseInt(rawEnum(value.IntValue), 10, 64)
		if err != nil {
			return nil
		}
		return n
	case !isNull(value.DoubleValue):
		f, err := strconv.ParseFloat(rawEnum(value.DoubleValue), 64)
		if err != nil {
			return nil
		}
		return f
	case value.BytesValue != nil:
		return *value.BytesValue
	case value.ArrayValue != nil:
		out := make([]any, 0, len(value.ArrayValue.Values))
		for _, item := range value.ArrayValue.Values {
			out = append(out, jsonAnyValue(item))
		}
		return out
	case value.KvlistValue != nil:
		return jsonKeyValues(value.KvlistValue.Values)
	default:
		return nil
	}
}
