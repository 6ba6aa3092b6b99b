package observability

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type recordingExporter struct {
	mu       sync.Mutex
	spans    []sdktrace.ReadOnlySpan
	shutdown bool
}

func (e *recordingExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, spans...)
	return nil
}

func (e *recordingExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

func (e *recordingExporter) Spans() []sdktrace.ReadOnlySpan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdktrace.ReadOnlySpan(nil), e.spans...)
}

func stubSpan(attrs ...attribute.KeyValue) tracetest.SpanStub {
	return tracetest.SpanStub{
		Name:       "POST /api/v1/traces",
		Attributes: attrs,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{1},
			SpanID:  trace.SpanID{1},
		}),
	}
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestScrubbingExporterRedactsAttributesEventsAndStatus(t *testing.T) {
	t.Parallel()

	inner := &recordingExporter{}
	exporter := newScrubbingExporter(inner)

	stub := stubSpan(
		attribute.String("error.message", "rejected key "+sampleKey),
		attribute.String("tracehub.project_id", "proj-1"),
		attribute.Int("spans", 3),
	)
	stub.Events = []sdktrace.Event{{
		Name:       "store error",
		Attributes: []attribute.KeyValue{attribute.String("dsn", "postgres://svc:pw123456@db/x")},
	}}
	stub.Status = sdktrace.Status{Code: codes.Error, Description: "x-api-key: " + sampleKey}

	if err := exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}); err != nil {
		t.Fatalf("ExportSpans() error: %v", err)
	}

	spans := inner.Spans()
	if len(spans) != 1 {
		t.Fatalf("exported spans=%d, want 1", len(spans))
	}
	got := spans[0]

	attrs := attrMap(got.Attributes())
	if attrs["error.message"] != "rejected key "+credentialRedacted {
		t.Fatalf("error.message=%q, want key redacted", attrs["error.message"])
	}
	if attrs["tracehub.project_id"] != "proj-1" || attrs["spans"] != "3" {
		t.Fatalf("clean attributes changed: %v", attrs)
	}
	if dsn := attrMap(got.Events()[0].Attributes)["dsn"]; dsn != "postgres://svc:"+credentialRedacted+"@db/x" {
		t.Fatalf("event dsn=%q, want password redacted", dsn)
	}
	if ContainsCredential(got.Status().Description) {
		t.Fatalf("status description=%q, still holds a credential", got.Status().Description)
	}
}

func TestScrubbingExporterPassesCleanSpanThrough(t *testing.T) {
	t.Parallel()

	inner := &recordingExporter{}
	exporter := newScrubbingExporter(inner)
	clean := stubSpan(attribute.String("http.route", "/api/v1/get-traces")).Snapshot()

	if err := exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{clean}); err != nil {
		t.Fatalf("ExportSpans() error: %v", err)
	}
	if spans := inner.Spans(); len(spans) != 1 || spans[0] != clean {
		t.Fatalf("clean span was copied, want the original value")
	}
}

func TestScrubbingExporterShutdownDelegates(t *testing.T) {
	t.Parallel()

	inner := &recordingExporter{}
	if err := newScrubbingExporter(inner).Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !inner.shutdown {
		t.Fatal("wrapped exporter was not shut down")
	}
}
