// Package projects is the relational store of teams and projects. A project
// owns spans and carries the hash of its API key.
package projects

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("project store record not found")

// Project types.
const (
	TypeDefault = "default"
	TypeAgent   = "agent"
)

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"team_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	APIKeyHash  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasCredential reports whether the project carries an API key hash.
func (p *Project) HasCredential() bool {
	return p != nil && strings.TrimSpace(p.APIKeyHash) != ""
}

// NewProject describes a project to create. ID is generated.
type NewProject struct {
	TeamID      string
	Name        string
	Description string
	Type        string
	APIKeyHash  string
}

// Store is the relational project store.
type Store interface {
	FindProject(ctx context.Context, id string) (*Project, error)
	FindProjectByAPIKeyHash(ctx context.Context, hash string) (*Project, error)
	CreateProject(ctx context.Context, project NewProject) (*Project, error)
	UpdateProjectCredential(ctx context.Context, id, hash string) error
	DeleteProject(ctx context.Context, id string) error
	FindOrCreateTeam(ctx context.Context, name string) (*Team, error)
	Close() error
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLStore)(nil)

// MemoryStore keeps projects in process memory. It backs tests and
// single-binary demos.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	teams    map[string]Team
	projects map[string]Project
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		teams:    make(map[string]Team),
		projects: make(map[string]Project),
	}
}

func (s *MemoryStore) FindProject(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.projects[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (s *MemoryStore) FindProjectByAPIKeyHash(_ context.Context, hash string) (*Project, error) {
	hash = normalizeHash(hash)
	if hash == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Project
	for _, item := range s.projects {
		if item.APIKeyHash == hash {
			matches = append(matches, item)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return &matches[0], nil
}

func (s *MemoryStore) CreateProject(_ context.Context, project NewProject) (*Project, error) {
	row, err := normalizeNewProject(project)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasTeam(row.TeamID) {
		return nil, ErrNotFound
	}
	row.ID = uuid.NewString()
	row.CreatedAt = s.now().UTC()
	s.projects[row.ID] = row
	return &row, nil
}

func (s *MemoryStore) UpdateProjectCredential(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.projects[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	item.APIKeyHash = normalizeHash(hash)
	s.projects[item.ID] = item
	return nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) FindOrCreateTeam(_ context.Context, name string) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errTeamNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, team := range s.teams {
		if team.Name == name {
			out := team
			return &out, nil
		}
	}
	team := Team{ID: uuid.NewString(), Name: name, CreatedAt: s.now().UTC()}
	s.teams[team.ID] = team
	return &team, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) hasTeam(id string) bool {
	_, ok := s.teams[id]
	return ok
}

var (
	errTeamNameRequired    = errors.New("team name is required")
	errTeamIDRequired      = errors.New("project team id is required")
	errProjectNameRequired = errors.New("project name is required")
)

func normalizeNewProject(in NewProject) (Project, error) {
	row := Project{
		TeamID:      strings.TrimSpace(in.TeamID),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Type:        strings.ToLower(strings.TrimSpace(in.Type)),
		APIKeyHash:  normalizeHash(in.APIKeyHash),
	}
	if row.TeamID == "" {
		return Project{}, errTeamIDRequired
	}
	if row.Name == "" {
		return Project{}, errProjectNameRequired
	}
	if row.Type == "" {
		row.Type = TypeDefault
	}
	return row, nil
}

func normalizeHash(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
