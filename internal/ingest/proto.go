package ingest

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tracehub/tracehub/internal/span"
)

// decodeOTLPProto decodes a binary OTLP TracesData message. Protobuf carries
// identifiers as raw bytes, so they are hex encoded here before the shared
// OpenTelemetry mapping runs.
func decodeOTLPProto(body []byte) ([]span.Span, error) {
	var payload tracepb.TracesData
	if err := proto.Unmarshal(body, &payload); err != nil {
		return nil, decodeError(FormatOTLPProto, "malformed protobuf", err)
	}

	var out []span.Span
	for _, resourceSpans := range payload.GetResourceSpans() {
		resource := protoKeyValues(resourceSpans.GetResource().GetAttributes())
		for _, scopeSpans := range resourceSpans.GetScopeSpans() {
			scopeName := scopeSpans.GetScope().GetName()
			for _, item := range scopeSpans.GetSpans() {
				out = append(out, mapOTELSpan(otelSpanFromProto(item, resource, scopeName)))
			}
		}
	}
	return out, nil
}

func otelSpanFromProto(in *tracepb.Span, resource map[string]any, scopeName string) otelSpan {
	out := otelSpan{
		TraceID:      hex.EncodeToString(in.GetTraceId()),
		SpanID:       hex.EncodeToString(in.GetSpanId()),
		ParentSpanID: hex.EncodeToString(in.GetParentSpanId()),
		Name:         in.GetName(),
		Kind:         strconv.Itoa(int(in.GetKind())),
		Start:        protoUnixNano(in.GetStartTimeUnixNano()),
		End:          protoUnixNano(in.GetEndTimeUnixNano()),
		Attributes:   protoKeyValues(in.GetAttributes()),
		Resource:     resource,
		ScopeName:    scopeName,
	}
	for _, event := range in.GetEvents() {
		item := map[string]any{
			"name": event.GetName(),
		}
		if ts := protoUnixNano(event.GetTimeUnixNano()); !ts.IsZero() {
			item["time"] = ts.Format(time.RFC3339Nano)
		}
		if attrs := protoKeyValues(event.GetAttributes()); len(attrs) > 0 {
			item["attributes"] = attrs
		}
		out.Events = append(out.Events, item)
	}
	if status := in.GetStatus(); status != nil {
		out.StatusCode = statusCodeName(strconv.Itoa(int(status.GetCode())))
		out.StatusMsg = status.GetMessage()
	}
	return out
}

// statusCodeName maps a numeric or symbolic OTLP status code to its enum
// name. Unset statuses map to "".
func statusCodeName(raw string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	if n, err := strconv.Atoi(value); err == nil {
		name, ok := tracepb.Status_StatusCode_name[int32(n)]
		if !ok {
			return ""
		}
		value = name
	}
	if _, ok := tracepb.Status_StatusCode_value[value]; !ok {
		return ""
	}
	if value == tracepb.Status_STATUS_CODE_UNSET.String() {
		return ""
	}
	return value
}

func protoUnixNano(nanos uint64) time.Time {
	if nanos == 0 || nanos > 1<<63-1 {
		return time.Time{}
	}
	return time.Unix(0, int64(nanos)).UTC()
}

func protoKeyValues(values []*commonpb.KeyValue) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for _, kv := range values {
		if kv.GetKey() == "" {
			continue
		}
		out[kv.GetKey()] = protoAnyValue(kv.GetValue())
	}
	return out
}

func protoAnyValue(value *commonpb.AnyValue) any {
	switch typed := value.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return typed.StringValue
	case *commonpb.AnyValue_BoolValue:
		return typed.BoolValue
	case *commonpb.AnyValue_IntValue:
		return typed.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return typed.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		// Same rendering the JSON encoding uses for bytes.
		return base64.StdEncoding.EncodeToString(typed.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		items := typed.ArrayValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, protoAnyValue(item))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		return protoKeyValues(typed.KvlistValue.GetValues())
	default:
		return nil
	}
}
