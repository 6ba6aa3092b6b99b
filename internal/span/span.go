// Package span defines the canonical span record every wire format is
// normalized into before it reaches storage.
package span

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Kind mirrors the OpenTelemetry span kind numbering.
type Kind int

const (
	KindUnspecified Kind = 0
	KindInternal    Kind = 1
	KindServer      Kind = 2
	KindClient      Kind = 3
	KindProducer    Kind = 4
	KindConsumer    Kind = 5
)

var kindNames = [...]string{
	KindUnspecified: "unspecified",
	KindInternal:    "internal",
	KindServer:      "server",
	KindClient:      "client",
	KindProducer:    "producer",
	KindConsumer:    "consumer",
}

func (k Kind) String() string {
	if !k.Valid() {
		return kindNames[KindUnspecified]
	}
	return kindNames[k]
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindUnspecified && k <= KindConsumer
}

// ParseKind maps a symbolic or numeric kind to its canonical code. It accepts
// OTLP enum names ("SPAN_KIND_SERVER"), bare names ("server") and decimal
// codes ("2"). Anything else is KindUnspecified.
func ParseKind(raw string) Kind {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return KindUnspecified
	}
	if n, err := strconv.Atoi(value); err == nil {
		return KindFromCode(int64(n))
	}
	value = strings.TrimPrefix(value, "span_kind_")
	for code, name := range kindNames {
		if name == value {
			return Kind(code)
		}
	}
	return KindUnspecified
}

// KindFromCode clamps an arbitrary numeric code onto the known kinds.
func KindFromCode(code int64) Kind {
	kind := Kind(code)
	if !kind.Valid() {
		return KindUnspecified
	}
	return kind
}

// Span is one timed operation within a trace.
type Span struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id"`
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Kind       Kind           `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
}

// IsRoot reports whether the span carries no parent reference at all. A span
// whose parent does not resolve inside its trace is also treated as a root
// during reconstruction; that check needs the whole trace group.
func (s Span) IsRoot() bool {
	return s.ParentID == ""
}

// Canonicalize returns s in canonical form. Applying it to its own output
// returns an equal span.
func Canonicalize(s Span) Span {
	out := s
	out.TraceID = strings.TrimSpace(s.TraceID)
	out.SpanID = strings.TrimSpace(s.SpanID)
	out.ParentID = strings.TrimSpace(s.ParentID)
	out.ProjectID = strings.TrimSpace(s.ProjectID)
	if !s.StartTime.IsZero() {
		out.StartTime = s.StartTime.UTC()
	}
	if !s.EndTime.IsZero() {
		out.EndTime = s.EndTime.UTC()
	}
	if !s.Kind.Valid() {
		out.Kind = KindUnspecified
	}
	out.Attributes = NormalizeAttributes(s.Attributes)
	return out
}

// CanonicalizeAll canonicalizes every span, preserving order.
func CanonicalizeAll(spans []Span) []Span {
	if spans == nil {
		return nil
	}
	out := make([]Span, len(spans))
	for i, s := range spans {
		out[i] = Canonicalize(s)
	}
	return out
}

// HexIdentifier re-encodes a base64 identifier as lowercase hexadecimal.
// Only values carrying base64 padding are converted; anything else, including
// identifiers that are already hex, is returned trimmed but otherwise
// unchanged.
func HexIdentifier(id string) string {
	id = strings.TrimSpace(id)
	if !strings.Contains(id, "=") {
		return id
	}
	decoded, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(id)
		if err != nil {
			return id
		}
	}
	return hex.EncodeToString(decoded)
}
