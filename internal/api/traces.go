package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/hierarchy"
	"github.com/tracehub/tracehub/internal/projects"
	"github.com/tracehub/tracehub/internal/trace"
	"github.com/tracehub/tracehub/internal/usage"
)

type tracesResponse struct {
	Traces   []usage.Trace  `json:"traces"`
	Metadata trace.Metadata `json:"metadata"`
}

// getTracesRequest is the POST body. GET requests carry the same fields as
// query parameters in snake_case.
type getTracesRequest struct {
	ProjectID string `json:"projectId"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
	Keyword   string `json:"keyword"`
}

const getTracesBodyLimit = 64 << 10

// GetTracesHandler returns one page of a project's traces as annotated
// hierarchies.
func GetTracesHandler(options RouterOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		ctx := r.Context()

		filter, err := parseSpanFilter(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if filter.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "project_id is required")
			return
		}

		apiKey, err := auth.KeyFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "API key is required")
			return
		}
		if _, err := options.Authenticator.AuthorizeProject(ctx, apiKey, filter.ProjectID); err != nil {
			switch {
			case errors.Is(err, projects.ErrNotFound):
				writeError(w, http.StatusNotFound, "project not found")
			case errors.Is(err, auth.ErrInvalidAPIKey), errors.Is(err, auth.ErrMissingAPIKey):
				writeError(w, http.StatusUnauthorized, "unauthorized: invalid API key")
			default:
				options.Logger.ErrorContext(ctx, "project authorization failed", "project_id", filter.ProjectID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to authorize project")
			}
			return
		}
		auth.WithProjectID(ctx, filter.ProjectID)

		page, err := options.Spans.QueryProjectSpans(ctx, filter)
		if err != nil {
			if errors.Is(err, trace.ErrPageSizeTooLarge) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			options.Logger.ErrorContext(ctx, "span query failed", "project_id", filter.ProjectID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query traces")
			return
		}

		traces := options.Aggregator.Annotate(hierarchy.Reconstruct(page.Spans))
		writeJSON(w, http.StatusOK, tracesResponse{
			Traces:   traces,
			Metadata: page.Metadata,
		})
	})
}

func parseSpanFilter(w http.ResponseWriter, r *http.Request) (trace.SpanFilter, error) {
	if r.Method == http.MethodPost {
		var body getTracesRequest
		if err := decodeJSONBody(w, r, getTracesBodyLimit, &body); err != nil {
			return trace.SpanFilter{}, err
		}
		if body.Page < 0 || body.PageSize < 0 {
			return trace.SpanFilter{}, errors.New("page and pageSize must be >= 0")
		}
		return trace.SpanFilter{
			ProjectID: strings.TrimSpace(body.ProjectID),
			Page:      body.Page,
			PageSize:  body.PageSize,
			Keyword:   strings.TrimSpace(body.Keyword),
		}, nil
	}

	query := r.URL.Query()
	page, err := parseIntQuery(query.Get("page"), "page", 0, 0)
	if err != nil {
		return trace.SpanFilter{}, err
	}
	pageSize, err := parseIntQuery(query.Get("page_size"), "page_size", 0, 0)
	if err != nil {
		return trace.SpanFilter{}, err
	}
	return trace.SpanFilter{
		ProjectID: strings.TrimSpace(query.Get("project_id")),
		Page:      page,
		PageSize:  pageSize,
		Keyword:   strings.TrimSpace(query.Get("keyword")),
	}, nil
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}

var (
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("request body must be a single JSON object")
)

// decodeJSONBody decodes one JSON value into dst. An empty body leaves dst
// untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if r == nil || r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errBodyTooLarge
		}
		return errInvalidJSON
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}
	return nil
}
