// Package agents maps agent names to projects and API keys.
//
// Mappings live in the column store as append-only rows; the row with the
// greatest updated_at for an agent is authoritative. Projects live in the
// relational store. The two are reconciled on every Resolve:
//
//   - no mapping: create a project, a key and a first mapping row
//   - mapping names a deleted project: start a new lineage (new project,
//     new key, created_at restarts)
//   - project or mapping lacks a credential: issue a key, update the
//     project hash, append a row that keeps the original created_at
//   - otherwise: return the mapping unchanged
//
// Resolve is serialized per agent name within one Reconciler. Two processes
// resolving the same unseen agent at once can each create a project; the
// later mapping row wins and the earlier project is left orphaned.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/columnstore"
	"github.com/tracehub/tracehub/internal/projects"
)

const (
	MappingTable     = "agent_project_mapping"
	DefaultTeamName  = "Agent Projects Team"
	mappingColumnSet = "agent_name, project_id, api_key, created_at, updated_at"
)

var ErrAgentNameRequired = errors.New("agent name is required")

// Outcome records which reconciliation branch a Resolve took.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeReplaced Outcome = "replaced"
	OutcomeRepaired Outcome = "repaired"
	OutcomeExisting Outcome = "existing"
)

// Mapping is one row of the mapping table.
type Mapping struct {
	AgentName string    `json:"agent_name"`
	ProjectID string    `json:"project_id"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Resolution struct {
	Mapping
	Outcome Outcome `json:"-"`
}

// ProjectStore is the part of the relational store the reconciler needs.
type ProjectStore interface {
	FindProject(ctx context.Context, id string) (*projects.Project, error)
	CreateProject(ctx context.Context, project projects.NewProject) (*projects.Project, error)
	UpdateProjectCredential(ctx context.Context, id, hash string) error
	FindOrCreateTeam(ctx context.Context, name string) (*projects.Team, error)
}

type Options struct {
	// DefaultTeam owns auto-created agent projects.
	DefaultTeam string
	Now         func() time.Time
	GenerateKey func() (string, error)
	// OnResolve is called after every successful Resolve.
	OnResolve func(ctx context.Context, agentName string, outcome Outcome)
	Logger    *slog.Logger
}

type Reconciler struct {
	mappings    columnstore.Client
	projects    ProjectStore
	defaultTeam string
	now         func() time.Time
	generateKey func() (string, error)
	onResolve   func(ctx context.Context, agentName string, outcome Outcome)
	logger      *slog.Logger

	group singleflight.Group

	ensureMu sync.Mutex
	ready    atomic.Bool

	clockMu    sync.Mutex
	lastUpdate time.Time
}

func NewReconciler(mappings columnstore.Client, projectStore ProjectStore, options Options) *Reconciler {
	r := &Reconciler{
		mappings:    mappings,
		projects:    projectStore,
		defaultTeam: strings.TrimSpace(options.DefaultTeam),
		now:         options.Now,
		generateKey: options.GenerateKey,
		onResolve:   options.OnResolve,
		logger:      options.Logger,
	}
	if r.defaultTeam == "" {
		r.defaultTeam = DefaultTeamName
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.generateKey == nil {
		r.generateKey = auth.GenerateAPIKey
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the project and key for agentName, creating or repairing
// them as needed. Repeated calls with no intervening changes return the same
// mapping and write nothing.
func (r *Reconciler) Resolve(ctx context.Context, agentName string) (Resolution, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return Resolution{}, ErrAgentNameRequired
	}

	// The shared call outlives any one caller; a cancel between project
	// creation and the mapping append would orphan the project.
	shared := context.WithoutCancel(ctx)
	value, err, _ := r.group.Do(agentName, func() (any, error) {
		return r.resolve(shared, agentName)
	})
	if err != nil {
		return Resolution{}, err
	}
	resolution := value.(Resolution)
	if r.onResolve != nil {
		r.onResolve(ctx, agentName, resolution.Outcome)
	}
	return resolution, nil
}

func (r *Reconciler) resolve(ctx context.Context, agentName string) (Resolution, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return Resolution{}, err
	}

	current, found, err := r.latest(ctx, agentName)
	if err != nil {
		return Resolution{}, err
	}
	if !found {
		return r.startLineage(ctx, agentName, OutcomeCreated, time.Time{})
	}

	project, err := r.projects.FindProject(ctx, current.ProjectID)
	if errors.Is(err, projects.ErrNotFound) {
		r.logger.Info("agent project missing, starting new lineage", "agent_name", agentName, "stale_project_id", current.ProjectID)
		return r.startLineage(ctx, agentName, OutcomeReplaced, current.UpdatedAt)
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("find project %q for agent %q: %w", current.ProjectID, agentName, err)
	}

	if strings.TrimSpace(current.APIKey) == "" || !project.HasCredential() {
		return r.repair(ctx, current)
	}
	return Resolution{Mapping: current, Outcome: OutcomeExisting}, nil
}

func (r *Reconciler) startLineage(ctx context.Context, agentName string, outcome Outcome, after time.Time) (Resolution, error) {
	team, err := r.projects.FindOrCreateTeam(ctx, r.defaultTeam)
	if err != nil {
		return Resolution{}, fmt.Errorf("find or create team %q: %w", r.defaultTeam, err)
	}
	key, err := r.generateKey()
	if err != nil {
		return Resolution{}, err
	}
	project, err := r.projects.CreateProject(ctx, projects.NewProject{
		TeamID:      team.ID,
		Name:        "Agent: " + agentName,
		Description: "Auto-created project for agent: " + agentName,
		Type:        projects.TypeAgent,
		APIKeyHash:  auth.HashAPIKey(key),
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create project for agent %q: %w", agentName, err)
	}

	now := r.nextTimestamp(after)
	mapping := Mapping{
		AgentName: agentName,
		ProjectID: project.ID,
		APIKey:    key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.append(ctx, mapping); err != nil {
		return Resolution{}, err
	}
	r.logger.Info("agent project created", "agent_name", agentName, "project_id", project.ID, "outcome", string(outcome))
	return Resolution{Mapping: mapping, Outcome: outcome}, nil
}

func (r *Reconciler) repair(ctx context.Context, current Mapping) (Resolution, error) {
	key, err := r.generateKey()
	if err != nil {
		return Resolution{}, err
	}
	if err := r.projects.UpdateProjectCredential(ctx, current.ProjectID, auth.HashAPIKey(key)); err != nil {
		return Resolution{}, fmt.Errorf("update credential for agent %q: %w", current.AgentName, err)
	}

	mapping := Mapping{
		AgentName: current.AgentName,
		ProjectID: current.ProjectID,
		APIKey:    key,
		CreatedAt: current.CreatedAt,
		UpdatedAt: r.nextTimestamp(current.UpdatedAt),
	}
	if err := r.append(ctx, mapping); err != nil {
		return Resolution{}, err
	}
	r.logger.Info("agent credential repaired", "agent_name", current.AgentName, "project_id", current.ProjectID)
	return Resolution{Mapping: mapping, Outcome: OutcomeRepaired}, nil
}

// nextTimestamp returns the current time at microsecond precision, forced
// strictly after both after and the last timestamp this Reconciler issued.
func (r *Reconciler) nextTimestamp(after time.Time) time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()

	now := r.now().UTC().Truncate(time.Microsecond)
	for _, floor := range []time.Time{after, r.lastUpdate} {
		if !floor.IsZero() && !now.After(floor) {
			now = floor.Truncate(time.Microsecond).Add(time.Microsecond)
		}
	}
	r.lastUpdate = now
	return now
}

func (r *Reconciler) append(ctx context.Context, mapping Mapping) error {
	dialect := r.mappings.Dialect()
	err := r.mappings.Insert(ctx, MappingTable,
		[]string{"agent_name", "project_id", "api_key", "created_at", "updated_at"},
		[][]any{{
			mapping.AgentName,
			mapping.ProjectID,
			mapping.APIKey,
			dialect.TimeValue(mapping.CreatedAt),
			dialect.TimeValue(mapping.UpdatedAt),
		}},
	)
	if err != nil {
		return fmt.Errorf("write mapping for agent %q: %w", mapping.AgentName, err)
	}
	return nil
}

func (r *Reconciler) latest(ctx context.Context, agentName string) (Mapping, bool, error) {
	dialect := r.mappings.Dialect()
	rows, err := r.mappings.Query(ctx,
		`SELECT `+mappingColumnSet+` FROM `+MappingTable+
			` WHERE agent_name = `+dialect.Placeholder(1)+
			` ORDER BY updated_at DESC LIMIT 1`,
		agentName,
	)
	if err != nil {
		return Mapping{}, false, fmt.Errorf("read mapping for agent %q: %w", agentName, err)
	}
	if len(rows) == 0 {
		return Mapping{}, false, nil
	}
	return mappingFromRow(rows[0]), true, nil
}

// EnsureSchema creates the mapping table if needed.
func (r *Reconciler) EnsureSchema(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.ready.Load() {
		return nil
	}

	dialect := r.mappings.Dialect()
	if err := columnstore.EnsureTable(ctx, r.mappings, MappingTable, mappingDDL(dialect)); err != nil {
		return fmt.Errorf("ensure mapping table: %w", err)
	}
	index := `CREATE INDEX IF NOT EXISTS idx_agent_mapping_name_updated ON ` + MappingTable + ` (agent_name, updated_at)`
	if err := r.mappings.CreateTable(ctx, index); err != nil && !errors.Is(err, columnstore.ErrTableExists) {
		return fmt.Errorf("ensure mapping index: %w", err)
	}
	r.ready.Store(true)
	return nil
}

func mappingDDL(dialect columnstore.Dialect) string {
	ts := dialect.TimestampType()
	return `CREATE TABLE IF NOT EXISTS ` + MappingTable + ` (
    agent_name TEXT NOT NULL,
    project_id TEXT NOT NULL,
    api_key TEXT NOT NULL DEFAULT '',
    created_at ` + ts + ` NOT NULL,
    updated_at ` + ts + ` NOT NULL
)`
}

// tableReady reports whether the mapping table exists without creating it.
func (r *Reconciler) tableReady(ctx context.Context) (bool, error) {
	if r.ready.Load() {
		return true, nil
	}
	exists, err := r.mappings.TableExists(ctx, MappingTable)
	if err != nil {
		return false, fmt.Errorf("check mapping table: %w", err)
	}
	return exists, nil
}

// latestPerAgent restricts a query on alias m to each agent's newest row.
const latestPerAgent = `m.updated_at = (SELECT MAX(l.updated_at) FROM ` + MappingTable + ` l WHERE l.agent_name = m.agent_name)`

// Authenticate reports whether apiKey is the current key of some agent whose
// current project is projectID.
func (r *Reconciler) Authenticate(ctx context.Context, apiKey, projectID string) (bool, error) {
	apiKey = strings.TrimSpace(apiKey)
	projectID = strings.TrimSpace(projectID)
	if apiKey == "" || projectID == "" {
		return false, nil
	}
	ok, err := r.tableReady(ctx)
	if err != nil || !ok {
		return false, err
	}

	dialect := r.mappings.Dialect()
	rows, err := r.mappings.Query(ctx,
		`SELECT m.agent_name FROM `+MappingTable+` m`+
			` WHERE m.api_key = `+dialect.Placeholder(1)+
			` AND m.project_id = `+dialect.Placeholder(2)+
			` AND `+latestPerAgent+` LIMIT 1`,
		apiKey, projectID,
	)
	if err != nil {
		return false, fmt.Errorf("authenticate agent key: %w", err)
	}
	return len(rows) > 0, nil
}

// ProjectForKey returns the project of the agent whose current key is apiKey.
func (r *Reconciler) ProjectForKey(ctx context.Context, apiKey string) (string, bool, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", false, nil
	}
	ok, err := r.tableReady(ctx)
	if err != nil || !ok {
		return "", false, err
	}

	dialect := r.mappings.Dialect()
	rows, err := r.mappings.Query(ctx,
		`SELECT m.project_id FROM `+MappingTable+` m`+
			` WHERE m.api_key = `+dialect.Placeholder(1)+
			` AND `+latestPerAgent+
			` ORDER BY m.updated_at DESC LIMIT 1`,
		apiKey,
	)
	if err != nil {
		return "", false, fmt.Errorf("find project for agent key: %w", err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].String("project_id"), true, nil
}

// List returns the authoritative mapping of every agent, sorted by name.
// It is empty when no agent has been resolved yet.
func (r *Reconciler) List(ctx context.Context) ([]Mapping, error) {
	ok, err := r.tableReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Mapping{}, nil
	}

	rows, err := r.mappings.Query(ctx,
		`SELECT `+mappingColumnSet+` FROM `+MappingTable+` ORDER BY agent_name, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agent mappings: %w", err)
	}

	latest := make(map[string]Mapping, len(rows))
	for _, row := range rows {
		mapping := mappingFromRow(row)
		if prev, seen := latest[mapping.AgentName]; seen && !mapping.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		latest[mapping.AgentName] = mapping
	}

	out := make([]Mapping, 0, len(latest))
	for _, mapping := range latest {
		out = append(out, mapping)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentName < out[j].AgentName
	})
	return out, nil
}

func mappingFromRow(row columnstore.Row) Mapping {
	return Mapping{
		AgentName: row.String("agent_name"),
		ProjectID: row.String("project_id"),
		APIKey:    row.String("api_key"),
		CreatedAt: row.Time("created_at"),
		UpdatedAt: row.Time("updated_at"),
	}
}
