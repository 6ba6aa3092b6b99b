// Package ingest turns raw producer payloads into canonical spans.
//
// Three wire formats are accepted: the native JSON span array, the
// OpenTelemetry JSON trace export and the OpenTelemetry protobuf trace export.
// Each has its own pure decode function; they all converge on span.Span.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/tracehub/tracehub/internal/span"
)

// Format tags the wire format of a payload.
type Format int

const (
	FormatNative Format = iota
	FormatOTELJSON
	FormatOTLPProto
)

func (f Format) String() string {
	switch f {
	case FormatNative:
		return "native"
	case FormatOTELJSON:
		return "otel_json"
	case FormatOTLPProto:
		return "otlp_proto"
	default:
		return "unknown"
	}
}

const (
	ContentTypeProtobuf = "application/x-protobuf"

	defaultMaxDecodedBytes = 32 << 20
)

// User-Agent fragments sent by the standard OpenTelemetry exporters. Matching
// is a case-insensitive substring test.
var otelUserAgentTokens = []string{
	"otel-otlp",
	"opentelemetry",
	"otel otlp exporter",
}

// Request carries the parts of an ingestion request the normalizer needs.
type Request struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	UserAgent       string
}

// Normalizer decodes payloads. The zero value is ready to use.
type Normalizer struct {
	// MaxDecodedBytes bounds the size of a decompressed body. Zero means the
	// package default.
	MaxDecodedBytes int64
}

// Normalize decodes req with a default Normalizer.
func Normalize(req Request) ([]span.Span, error) {
	return Normalizer{}.Normalize(req)
}

// Normalize detects the wire format of req, decodes it and returns the spans
// in encounter order. Any failure is a *DecodeError.
func (n Normalizer) Normalize(req Request) ([]span.Span, error) {
	format := DetectFormat(req)

	body := req.Body
	if isGzip(req.ContentEncoding) {
		decompressed, err := n.gunzip(body)
		if err != nil {
			return nil, decodeError(format, "gzip decompression failed", err)
		}
		body = decompressed
	}

	var (
		spans []span.Span
		err   error
	)
	switch format {
	case FormatOTLPProto:
		spans, err = decodeOTLPProto(body)
	case FormatOTELJSON:
		spans, err = decodeOTELJSON(body)
	default:
		spans, err = decodeNative(body)
	}
	if err != nil {
		return nil, err
	}
	return span.CanonicalizeAll(spans), nil
}

// DetectFormat picks the decoder for req from its headers.
func DetectFormat(req Request) Format {
	if isProtobuf(req.ContentType) {
		return FormatOTLPProto
	}
	if IsOTELUserAgent(req.UserAgent) {
		return FormatOTELJSON
	}
	return FormatNative
}

// IsOTELUserAgent reports whether userAgent identifies a standard
// OpenTelemetry exporter.
func IsOTELUserAgent(userAgent string) bool {
	value := strings.ToLower(userAgent)
	if value == "" {
		return false
	}
	for _, token := range otelUserAgentTokens {
		if strings.Contains(value, token) {
			return true
		}
	}
	return false
}

func isProtobuf(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	switch strings.ToLower(mediaType) {
	case ContentTypeProtobuf, "application/protobuf":
		return true
	default:
		return false
	}
}

func isGzip(contentEncoding string) bool {
	for _, part := range strings.Split(contentEncoding, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "gzip", "x-gzip":
			return true
		}
	}
	return false
}

func (n Normalizer) gunzip(body []byte) ([]byte, error) {
	limit := n.MaxDecodedBytes
	if limit <= 0 {
		limit = defaultMaxDecodedBytes
	}
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", limit)
	}
	return out, nil
}

var errEmptyBody = errors.New("empty body")
