// Package auth handles project API keys: generation, hashing, and the
// x-api-key credential chain that resolves a request to a project.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"github.com/tracehub/tracehub/internal/projects"
)

// HeaderName carries project API keys on ingest and read requests.
const HeaderName = "X-Api-Key"

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// GenerateAPIKey returns a fresh plaintext key. Only its hash is stored on
// the project.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashAPIKey returns the lowercase hex sha256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyFromRequest reads the trimmed API key header.
func KeyFromRequest(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderName))
	if key == "" {
		return "", ErrMissingAPIKey
	}
	return key, nil
}

// ProjectLookup is the slice of the project store the authenticator reads.
type ProjectLookup interface {
	FindProject(ctx context.Context, id string) (*projects.Project, error)
	FindProjectByAPIKeyHash(ctx context.Context, hash string) (*projects.Project, error)
}

// AgentCredentials is the fallback credential source: keys recorded in the
// agent mapping table.
type AgentCredentials interface {
	Authenticate(ctx context.Context, apiKey, projectID string) (bool, error)
	ProjectForKey(ctx context.Context, apiKey string) (string, bool, error)
}

type Authenticator struct {
	projects ProjectLookup
	agents   AgentCredentials
}

// NewAuthenticator builds the credential chain. agents may be nil.
func NewAuthenticator(projectStore ProjectLookup, agents AgentCredentials) *Authenticator {
	return &Authenticator{projects: projectStore, agents: agents}
}

// ProjectForIngest resolves the project owning apiKey. The relational
// credential hash is checked first, then the agent mapping table.
func (a *Authenticator) ProjectForIngest(ctx context.Context, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	project, err := a.projects.FindProjectByAPIKeyHash(ctx, HashAPIKey(apiKey))
	switch {
	case err == nil:
		return project.ID, nil
	case !errors.Is(err, projects.ErrNotFound):
		return "", fmt.Errorf("resolve project by api key: %w", err)
	}

	if a.agents == nil {
		return "", ErrInvalidAPIKey
	}
	projectID, ok, err := a.agents.ProjectForKey(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("resolve agent project by api key: %w", err)
	}
	if !ok {
		return "", ErrInvalidAPIKey
	}
	// The mapping outlives its project when the project is deleted.
	if _, err := a.projects.FindProject(ctx, projectID); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return "", ErrInvalidAPIKey
		}
		return "", fmt.Errorf("resolve agent project %q: %w", projectID, err)
	}
	return projectID, nil
}

// AuthorizeProject checks that apiKey grants access to projectID. It returns
// projects.ErrNotFound when the project does not exist.
func (a *Authenticator) AuthorizeProject(ctx context.Context, apiKey, projectID string) (*projects.Project, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	project, err := a.projects.FindProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find project %q: %w", projectID, err)
	}
	if project.HasCredential() && hashesEqual(project.APIKeyHash, HashAPIKey(apiKey)) {
		return project, nil
	}

	if a.agents == nil {
		return nil, ErrInvalidAPIKey
	}
	ok, err := a.agents.Authenticate(ctx, apiKey, project.ID)
	if err != nil {
		return nil, fmt.Errorf("authenticate agent key for project %q: %w", project.ID, err)
	}
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return project, nil
}

func hashesEqual(stored, computed string) bool {
	stored = strings.TrimSpace(strings.ToLower(stored))
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1
}

const defaultAdminHeader = "X-Tracehub-Admin-Key"

// AdminOptions configures the optional guard on management endpoints.
type AdminOptions struct {
	Enabled bool
	Header  string
	// Tokens and TokenHashes may be mixed; tokens are hashed on load.
	Tokens      []string
	TokenHashes []string
}

// AdminGuard protects management endpoints (agent resolution, key rotation)
// with statically configured operator keys. A disabled guard admits every
// request.
type AdminGuard struct {
	enabled bool
	header  string
	hashes  map[string]struct{}
}

func NewAdminGuard(options AdminOptions) (*AdminGuard, error) {
	header := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(options.Header))
	if header == "" {
		header = defaultAdminHeader
	}
	guard := &AdminGuard{enabled: options.Enabled, header: header, hashes: map[string]struct{}{}}
	if !options.Enabled {
		return guard, nil
	}

	for _, token := range options.Tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, errors.New("admin key token cannot be empty")
		}
		guard.hashes[HashAPIKey(token)] = struct{}{}
	}
	for _, hash := range options.TokenHashes {
		hash = strings.TrimSpace(strings.ToLower(hash))
		if hash == "" {
			return nil, errors.New("admin key hash cannot be empty")
		}
		guard.hashes[hash] = struct{}{}
	}
	if len(guard.hashes) == 0 {
		return nil, errors.New("admin auth is enabled but no admin keys are configured")
	}
	return guard, nil
}

func (g *AdminGuard) Enabled() bool {
	return g != nil && g.enabled
}

func (g *AdminGuard) HeaderName() string {
	if g == nil || g.header == "" {
		return defaultAdminHeader
	}
	return g.header
}

// Check returns nil when the request may reach a management endpoint.
func (g *AdminGuard) Check(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	token := strings.TrimSpace(r.Header.Get(g.HeaderName()))
	if token == "" {
		return ErrMissingAPIKey
	}
	if _, ok := g.hashes[HashAPIKey(token)]; !ok {
		return ErrInvalidAPIKey
	}
	return nil
}

type contextProjectKey struct{}

// projectSlot is shared by every context derived from the one it was
// installed on, so middleware wrapping a handler sees the project the
// handler authenticated.
type projectSlot struct {
	mu sync.Mutex
	id string
}

// WithProjectID records the authenticated project on ctx. An existing slot
// is filled in place; otherwise a new one is installed. An empty projectID
// only installs the slot.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(contextProjectKey{}).(*projectSlot); ok {
		if projectID != "" {
			slot.mu.Lock()
			slot.id = projectID
			slot.mu.Unlock()
		}
		return ctx
	}
	return context.WithValue(ctx, contextProjectKey{}, &projectSlot{id: projectID})
}

func ProjectIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	slot, ok := ctx.Value(contextProjectKey{}).(*projectSlot)
	if !ok {
		return "", false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id, slot.id != ""
}
