package projects

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStoresShareBehaviour(t *testing.T) {
	t.Parallel()

	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "projects.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error: %v", err)
			}
			return store
		},
	}
	if dsn := strings.TrimSpace(os.Getenv("TRACEHUB_TEST_POSTGRES_DSN")); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			store, err := NewPostgresStore(dsn)
			if err != nil {
				t.Fatalf("NewPostgresStore() error: %v", err)
			}
			return store
		}
	}

	for name, factory := range factories {
		name, factory := name, factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			exerciseStore(t, store)
		})
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	teamName := "team-" + t.Name()

	team, err := store.FindOrCreateTeam(ctx, teamName)
	if err != nil {
		t.Fatalf("FindOrCreateTeam() error: %v", err)
	}
	again, err := store.FindOrCreateTeam(ctx, teamName)
	if err != nil {
		t.Fatalf("FindOrCreateTeam() second call error: %v", err)
	}
	if again.ID != team.ID {
		t.Fatalf("team id=%q, want %q", again.ID, team.ID)
	}

	created, err := store.CreateProject(ctx, NewProject{
		TeamID:     team.ID,
		Name:       "Agent: support-bot",
		Type:       TypeAgent,
		APIKeyHash: "ABCDEF",
	})
	if err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("created=%+v, want id and created_at", created)
	}

	found, err := store.FindProject(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindProject() error: %v", err)
	}
	if found.Name != "Agent: support-bot" || found.Type != TypeAgent || found.TeamID != team.ID {
		t.Fatalf("found=%+v", found)
	}
	if found.APIKeyHash != "abcdef" {
		t.Fatalf("hash=%q, want lowercased", found.APIKeyHash)
	}

	byHash, err := store.FindProjectByAPIKeyHash(ctx, "abcdef")
	if err != nil {
		t.Fatalf("FindProjectByAPIKeyHash() error: %v", err)
	}
	if byHash.ID != created.ID {
		t.Fatalf("by hash id=%q, want %q", byHash.ID, created.ID)
	}

	if err := store.UpdateProjectCredential(ctx, created.ID, "123456"); err != nil {
		t.Fatalf("UpdateProjectCredential() error: %v", err)
	}
	if _, err := store.FindProjectByAPIKeyHash(ctx, "abcdef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old hash lookup error=%v, want ErrNotFound", err)
	}
	if err := store.UpdateProjectCredential(ctx, "missing", "123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing error=%v, want ErrNotFound", err)
	}

	if err := store.DeleteProject(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProject() error: %v", err)
	}
	if _, err := store.FindProject(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindProject() after delete error=%v, want ErrNotFound", err)
	}
	if err := store.DeleteProject(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error=%v, want ErrNotFound", err)
	}
}

func TestCreateProjectValidatesInput(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.CreateProject(ctx, NewProject{Name: "x"}); err == nil {
		t.Fatalf("expected error for missing team id")
	}
	team, _ := store.FindOrCreateTeam(ctx, "t")
	if _, err := store.CreateProject(ctx, NewProject{TeamID: team.ID}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := store.CreateProject(ctx, NewProject{TeamID: "nope", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown team error=%v, want ErrNotFound", err)
	}
	if _, err := store.FindOrCreateTeam(ctx, "  "); err == nil {
		t.Fatalf("expected error for blank team name")
	}

	project, err := store.CreateProject(ctx, NewProject{TeamID: team.ID, Name: "plain"})
	if err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	if project.Type != TypeDefault {
		t.Fatalf("type=%q, want %q", project.Type, TypeDefault)
	}
	if project.HasCredential() {
		t.Fatalf("project without hash reports a credential")
	}
}

func TestSQLiteCreateProjectUnknownTeam(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "projects.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer store.Close()

	_, err = store.CreateProject(context.Background(), NewProject{TeamID: "missing", Name: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error=%v, want ErrNotFound", err)
	}
}

func TestSQLiteFindOrCreateTeamConcurrent(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "projects.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer store.Close()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			team, err := store.FindOrCreateTeam(context.Background(), "Agent Projects Team")
			errs[i] = err
			if team != nil {
				ids[i] = team.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d error: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("team ids differ: %q vs %q", ids[i], ids[0])
		}
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "projects.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	team, err := store.FindOrCreateTeam(context.Background(), "t")
	if err != nil {
		t.Fatalf("FindOrCreateTeam() error: %v", err)
	}
	project, err := store.CreateProject(context.Background(), NewProject{TeamID: team.ID, Name: "p"})
	if err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.FindProject(context.Background(), project.ID); err != nil {
		t.Fatalf("FindProject() after reopen error: %v", err)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQLStore{driver: "postgres"}
	if got := pg.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("rebind=%q", got)
	}
	lite := &SQLStore{driver: "sqlite"}
	if got := lite.rebind(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite rebind=%q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open("mysql", "", ""); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
