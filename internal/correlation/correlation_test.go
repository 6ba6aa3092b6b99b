package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEnsureRequestReusesClientID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/traces", nil)
	req.Header.Set("X-Request-ID", "abc-123")

	updated, id := EnsureRequest(req)
	if id != "abc-123" {
		t.Fatalf("correlation id=%q, want abc-123", id)
	}
	if got := updated.Header.Get(HeaderName); got != "abc-123" {
		t.Fatalf("%s=%q, want abc-123", HeaderName, got)
	}
	if got, ok := FromContext(updated.Context()); !ok || got != "abc-123" {
		t.Fatalf("FromContext()=%q,%v, want abc-123,true", got, ok)
	}
}

func TestEnsureRequestReplacesInvalidClientID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/get-traces", nil)
	req.Header.Set(HeaderName, "bad id\nwith newline")

	_, id := EnsureRequest(req)
	if !strings.HasPrefix(id, "corr-") {
		t.Fatalf("correlation id=%q, want generated corr- id", id)
	}
}

func TestEnsureRequestKeepsContextID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req = req.WithContext(WithContext(req.Context(), "ctx-1"))
	req.Header.Set("X-Request-ID", "header-1")

	updated, id := EnsureRequest(req)
	if id != "ctx-1" || updated.Header.Get(HeaderName) != "ctx-1" {
		t.Fatalf("correlation id=%q header=%q, want ctx-1", id, updated.Header.Get(HeaderName))
	}
}

func TestEnsureRequestNil(t *testing.T) {
	t.Parallel()

	if req, id := EnsureRequest(nil); req != nil || id != "" {
		t.Fatalf("EnsureRequest(nil)=%v,%q, want nil,\"\"", req, id)
	}
}

func TestWithContextIgnoresInvalidID(t *testing.T) {
	t.Parallel()

	ctx := WithContext(context.Background(), "has space")
	if _, ok := FromContext(ctx); ok {
		t.Fatal("invalid id stored in context")
	}
}

func TestNormalizeIDTruncates(t *testing.T) {
	t.Parallel()

	if got := normalizeID(strings.Repeat("a", maxIDLen+10)); len(got) != maxIDLen {
		t.Fatalf("len(normalizeID())=%d, want %d", len(got), maxIDLen)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	t.Parallel()

	a, b := NewID(), NewID()
	if a == b {
		t.Fatalf("NewID() returned %q twice", a)
	}
}
