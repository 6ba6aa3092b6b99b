package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tracehub/tracehub/internal/projects"
)

type fakeAgents struct {
	keys  map[string]string
	err   error
	calls int
}

func (f *fakeAgents) Authenticate(_ context.Context, apiKey, projectID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.keys[apiKey] == projectID, nil
}

func (f *fakeAgents) ProjectForKey(_ context.Context, apiKey string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	projectID, ok := f.keys[apiKey]
	return projectID, ok, nil
}

func seedProject(t *testing.T, store *projects.MemoryStore, key string) *projects.Project {
	t.Helper()
	ctx := context.Background()
	team, err := store.FindOrCreateTeam(ctx, "team")
	if err != nil {
		t.Fatalf("FindOrCreateTeam() error: %v", err)
	}
	hash := ""
	if key != "" {
		hash = HashAPIKey(key)
	}
	project, err := store.CreateProject(ctx, projects.NewProject{TeamID: team.ID, Name: "p", APIKeyHash: hash})
	if err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	return project
}

func TestGenerateAPIKey(t *testing.T) {
	t.Parallel()

	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}
	b, _ := GenerateAPIKey()
	if len(a) != 64 {
		t.Fatalf("len(key)=%d, want 64", len(a))
	}
	if a == b {
		t.Fatalf("two generated keys are equal")
	}
}

func TestHashAPIKey(t *testing.T) {
	t.Parallel()

	got := HashAPIKey("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("HashAPIKey()=%q, want %q", got, want)
	}
}

func TestKeyFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/traces", nil)
	if _, err := KeyFromRequest(req); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error=%v, want ErrMissingAPIKey", err)
	}
	req.Header.Set("x-api-key", "  key-1 ")
	key, err := KeyFromRequest(req)
	if err != nil || key != "key-1" {
		t.Fatalf("key=%q err=%v", key, err)
	}
}

func TestProjectForIngestPrefersRelationalHash(t *testing.T) {
	t.Parallel()

	store := projects.NewMemoryStore()
	project := seedProject(t, store, "primary")
	agentProject := seedProject(t, store, "")
	agents := &fakeAgents{keys: map[string]string{
		"agent-key":   agentProject.ID,
		"stale-agent": "deleted-project",
	}}
	authn := NewAuthenticator(store, agents)

	got, err := authn.ProjectForIngest(context.Background(), "primary")
	if err != nil {
		t.Fatalf("ProjectForIngest() error: %v", err)
	}
	if got != project.ID {
		t.Fatalf("project=%q, want %q", got, project.ID)
	}
	if agents.calls != 0 {
		t.Fatalf("agent fallback calls=%d, want 0", agents.calls)
	}

	got, err = authn.ProjectForIngest(context.Background(), "agent-key")
	if err != nil {
		t.Fatalf("ProjectForIngest() fallback error: %v", err)
	}
	if got != agentProject.ID {
		t.Fatalf("project=%q, want %q", got, agentProject.ID)
	}

	if _, err := authn.ProjectForIngest(context.Background(), "stale-agent"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("key for deleted project error=%v, want ErrInvalidAPIKey", err)
	}

	if _, err := authn.ProjectForIngest(context.Background(), "unknown"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("unknown key error=%v, want ErrInvalidAPIKey", err)
	}
	if _, err := authn.ProjectForIngest(context.Background(), " "); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("blank key error=%v, want ErrMissingAPIKey", err)
	}
}

func TestProjectForIngestSurfacesAgentStoreErrors(t *testing.T) {
	t.Parallel()

	authn := NewAuthenticator(projects.NewMemoryStore(), &fakeAgents{err: errors.New("column store down")})
	_, err := authn.ProjectForIngest(context.Background(), "k")
	if err == nil || errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("error=%v, want store error", err)
	}
}

func TestAuthorizeProject(t *testing.T) {
	t.Parallel()

	store := projects.NewMemoryStore()
	project := seedProject(t, store, "primary")
	bare := seedProject(t, store, "")
	agents := &fakeAgents{keys: map[string]string{"agent-key": bare.ID}}
	authn := NewAuthenticator(store, agents)
	ctx := context.Background()

	if _, err := authn.AuthorizeProject(ctx, "primary", project.ID); err != nil {
		t.Fatalf("AuthorizeProject() primary error: %v", err)
	}
	if _, err := authn.AuthorizeProject(ctx, "agent-key", bare.ID); err != nil {
		t.Fatalf("AuthorizeProject() agent fallback error: %v", err)
	}
	if _, err := authn.AuthorizeProject(ctx, "agent-key", project.ID); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("cross-project key error=%v, want ErrInvalidAPIKey", err)
	}
	if _, err := authn.AuthorizeProject(ctx, "primary", "missing"); !errors.Is(err, projects.ErrNotFound) {
		t.Fatalf("missing project error=%v, want ErrNotFound", err)
	}
	if _, err := authn.AuthorizeProject(ctx, "", project.ID); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("missing key error=%v, want ErrMissingAPIKey", err)
	}
}

func TestAuthorizeProjectWithoutAgentFallback(t *testing.T) {
	t.Parallel()

	store := projects.NewMemoryStore()
	project := seedProject(t, store, "primary")
	authn := NewAuthenticator(store, nil)
	if _, err := authn.AuthorizeProject(context.Background(), "other", project.ID); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("error=%v, want ErrInvalidAPIKey", err)
	}
}

func TestAdminGuard(t *testing.T) {
	t.Parallel()

	if _, err := NewAdminGuard(AdminOptions{Enabled: true}); err == nil {
		t.Fatal("expected error when admin auth is enabled without keys")
	}

	disabled, err := NewAdminGuard(AdminOptions{})
	if err != nil {
		t.Fatalf("NewAdminGuard() error: %v", err)
	}
	if err := disabled.Check(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("disabled guard error: %v", err)
	}

	guard, err := NewAdminGuard(AdminOptions{
		Enabled:     true,
		Tokens:      []string{"ops-token"},
		TokenHashes: []string{HashAPIKey("hashed-token")},
	})
	if err != nil {
		t.Fatalf("NewAdminGuard() error: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "missing", token: "", want: ErrMissingAPIKey},
		{name: "invalid", token: "nope", want: ErrInvalidAPIKey},
		{name: "plain", token: "ops-token", want: nil},
		{name: "prehashed", token: "hashed-token", want: nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil)
			if tc.token != "" {
				req.Header.Set("X-Tracehub-Admin-Key", tc.token)
			}
			if err := guard.Check(req); !errors.Is(err, tc.want) {
				t.Fatalf("Check() error=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestProjectIDContext(t *testing.T) {
	t.Parallel()

	ctx := WithProjectID(context.Background(), "p1")
	got, ok := ProjectIDFromContext(ctx)
	if !ok || got != "p1" {
		t.Fatalf("project=%q ok=%v", got, ok)
	}
	if _, ok := ProjectIDFromContext(context.Background()); ok {
		t.Fatal("empty context reports a project")
	}

	outer := WithProjectID(context.Background(), "")
	if _, ok := ProjectIDFromContext(outer); ok {
		t.Fatal("empty slot reports a project")
	}
	inner, cancel := context.WithCancel(outer)
	defer cancel()
	WithProjectID(inner, "p2")
	if got, ok := ProjectIDFromContext(outer); !ok || got != "p2" {
		t.Fatalf("outer project=%q ok=%v, want p2 set through derived context", got, ok)
	}
}
