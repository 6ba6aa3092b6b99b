package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tracehub/tracehub/internal/agents"
	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/ingest"
	"github.com/tracehub/tracehub/internal/projects"
	"github.com/tracehub/tracehub/internal/span"
	"github.com/tracehub/tracehub/internal/trace"
	"github.com/tracehub/tracehub/internal/usage"
)

// SpanStore is the column-store write and read path.
type SpanStore interface {
	Write(ctx context.Context, spans []span.Span, projectID string) error
	QueryProjectSpans(ctx context.Context, filter trace.SpanFilter) (*trace.SpanPage, error)
}

// AgentDirectory resolves and lists agent identities.
type AgentDirectory interface {
	Resolve(ctx context.Context, agentName string) (agents.Resolution, error)
	List(ctx context.Context) ([]agents.Mapping, error)
}

// Metrics receives request-level counters. *observability.Runtime satisfies it.
type Metrics interface {
	RecordIngest(ctx context.Context, format string, spans int)
	RecordDecodeFailure(ctx context.Context, format string)
	RecordStoreWriteFailure(ctx context.Context, operation, errorClass string)
}

type RouterOptions struct {
	AppVersion    string
	StorageDriver string
	Spans         SpanStore
	Projects      projects.Store
	Authenticator *auth.Authenticator
	Agents        AgentDirectory
	Admin         *auth.AdminGuard
	Normalizer    ingest.Normalizer
	Aggregator    *usage.Aggregator
	MaxBodyBytes  int64
	DefaultTeam   string
	Metrics       Metrics
	Logger        *slog.Logger
}

func NewRouter(options RouterOptions) http.Handler {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Metrics == nil {
		options.Metrics = noopMetrics{}
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(options.DefaultTeam) == "" {
		options.DefaultTeam = defaultProjectTeam
	}

	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
	}))
	mux.Handle("/api/v1/traces", IngestHandler(options))
	mux.Handle("/api/v1/get-traces", GetTracesHandler(options))
	mux.Handle("/api/v1/agents", requireAdmin(options.Admin, AgentsHandler(options)))
	mux.Handle("/api/v1/agents/list", requireAdmin(options.Admin, AgentListHandler(options)))
	mux.Handle("/api/v1/api-keys/generate", requireAdmin(options.Admin, APIKeysHandler(options)))
	mux.Handle("/api/v1/projects/create", requireAdmin(options.Admin, ProjectsHandler(options)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "tracehub",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	adminHeader := ""
	if options.Admin != nil {
		adminHeader = options.Admin.HeaderName()
	}
	return withCORS(mux, adminHeader)
}

const (
	defaultMaxBodyBytes = 10 << 20
	defaultProjectTeam  = "Default Team"
)

type noopMetrics struct{}

func (noopMetrics) RecordIngest(context.Context, string, int)              {}
func (noopMetrics) RecordDecodeFailure(context.Context, string)            {}
func (noopMetrics) RecordStoreWriteFailure(context.Context, string, string) {}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// requireMethod writes 405 unless r uses one of methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", ")+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// requireAdmin guards management endpoints when admin auth is enabled.
func requireAdmin(guard *auth.AdminGuard, next http.Handler) http.Handler {
	if !guard.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := guard.Check(r); err != nil {
			writeError(w, http.StatusUnauthorized, "admin credential required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler, adminHeader string) http.Handler {
	allowedHeaders := []string{"Content-Type", "Content-Encoding", auth.HeaderName}
	if custom := strings.TrimSpace(adminHeader); custom != "" {
		allowedHeaders = append(allowedHeaders, custom)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
