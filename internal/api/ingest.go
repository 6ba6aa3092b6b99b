package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/ingest"
	"github.com/tracehub/tracehub/internal/trace"
)

type ingestResponse struct {
	Message string `json:"message"`
	Spans   int    `json:"spans"`
}

// IngestHandler accepts span batches in any supported wire format and writes
// them to the project owning the x-api-key credential.
func IngestHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		ctx := r.Context()

		apiKey, err := auth.KeyFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "API key is required")
			return
		}
		projectID, err := options.Authenticator.ProjectForIngest(ctx, apiKey)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidAPIKey) || errors.Is(err, auth.ErrMissingAPIKey) {
				writeError(w, http.StatusUnauthorized, "invalid API key or project not found")
				return
			}
			options.Logger.ErrorContext(ctx, "ingest credential lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to resolve api key")
			return
		}
		auth.WithProjectID(ctx, projectID)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, options.MaxBodyBytes))
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		req := ingest.Request{
			Body:            body,
			ContentType:     r.Header.Get("Content-Type"),
			ContentEncoding: r.Header.Get("Content-Encoding"),
			UserAgent:       r.UserAgent(),
		}
		format := ingest.DetectFormat(req).String()
		spans, err := options.Normalizer.Normalize(req)
		if err != nil {
			options.Metrics.RecordDecodeFailure(ctx, format)
			if ingest.IsDecodeError(err) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to decode spans")
			return
		}

		if err := options.Spans.Write(ctx, spans, projectID); err != nil {
			class := trace.ClassifyWriteError(err)
			options.Metrics.RecordStoreWriteFailure(ctx, "write_spans", class)
			options.Logger.ErrorContext(ctx, "span write failed",
				"project_id", projectID,
				"spans", len(spans),
				"error_class", class,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "failed to store spans")
			return
		}
		options.Metrics.RecordIngest(ctx, format, len(spans))

		writeJSON(w, http.StatusOK, ingestResponse{
			Message: "Traces added successfully",
			Spans:   len(spans),
		})
	})
}
