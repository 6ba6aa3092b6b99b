// Package correlation carries a per-request identifier from the inbound
// HTTP request through logs, spans, and the response headers.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderName is echoed on every response.
	HeaderName = "X-Tracehub-Correlation-ID"
	maxIDLen   = 128
)

// inboundHeaders are checked in order when a client supplies its own id.
var inboundHeaders = []string{HeaderName, "X-Request-ID", "X-Correlation-ID"}

type contextKey struct{}

// EnsureRequest returns req with a correlation id on its context and header,
// reusing a valid client-supplied id when present.
func EnsureRequest(req *http.Request) (*http.Request, string) {
	if req == nil {
		return nil, ""
	}
	id, ok := FromContext(req.Context())
	if !ok {
		id = FromHeaders(req.Header)
		if id == "" {
			id = NewID()
		}
		req = req.WithContext(WithContext(req.Context(), id))
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(HeaderName, id)
	return req, id
}

func WithContext(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id = normalizeID(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id, id != ""
}

// FromHeaders returns the first valid id among the known inbound headers.
func FromHeaders(headers http.Header) string {
	for _, name := range inboundHeaders {
		if id := normalizeID(headers.Get(name)); id != "" {
			return id
		}
	}
	return ""
}

func NewID() string {
	return "corr-" + uuid.NewString()
}

// normalizeID rejects ids with characters outside [A-Za-z0-9-_.:] so they
// are safe to log and echo.
func normalizeID(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) > maxIDLen {
		value = value[:maxIDLen]
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
