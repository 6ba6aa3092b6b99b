package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tracehub/tracehub/migrations"
)

// SQLStore keeps teams and projects in SQLite or Postgres. Queries are
// written with "?" markers and rebound for Postgres.
type SQLStore struct {
	driver string
	db     *sql.DB
	now    func() time.Time
	// Serializes SQLite writers; unused for Postgres.
	writeMu sync.Mutex
}

// Open returns the store for driver ("sqlite" or "postgres").
func Open(driver, path, dsn string) (*SQLStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case migrations.DriverSQLite:
		return NewSQLiteStore(path)
	case migrations.DriverPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported project store driver %q", driver)
	}
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite project store %q: %w", path, err)
	}
	store := &SQLStore{driver: migrations.DriverSQLite, db: db, now: time.Now}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite project store (%s): %w", pragma, err)
		}
	}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres project store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres project store: %w", err)
	}

	store := &SQLStore{driver: migrations.DriverPostgres, db: db, now: time.Now}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) ensureSchema() error {
	if err := migrations.Apply(context.Background(), s.db, s.driver); err != nil {
		return fmt.Errorf("ensure %s project schema: %w", s.driver, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const projectColumns = `id, team_id, name, description, type, api_key_hash, created_at`

func (s *SQLStore) FindProject(ctx context.Context, id string) (*Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+projectColumns+` FROM projects WHERE id = ? LIMIT 1`), id)
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find project %q: %w", id, err)
	}
	return project, nil
}

func (s *SQLStore) FindProjectByAPIKeyHash(ctx context.Context, hash string) (*Project, error) {
	hash = normalizeHash(hash)
	if hash == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT `+projectColumns+`
FROM projects
WHERE api_key_hash = ?
ORDER BY created_at ASC, id ASC
LIMIT 1`), hash)
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find project by api key hash: %w", err)
	}
	return project, nil
}

func (s *SQLStore) CreateProject(ctx context.Context, project NewProject) (*Project, error) {
	row, err := normalizeNewProject(project)
	if err != nil {
		return nil, err
	}
	row.ID = uuid.NewString()
	row.CreatedAt = s.now().UTC()

	s.lockWrites()
	defer s.unlockWrites()

	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO projects (id, team_id, name, description, type, api_key_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.TeamID, row.Name, row.Description, row.Type, row.APIKeyHash, s.timeValue(row.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("create project %q: team %q: %w", row.Name, row.TeamID, ErrNotFound)
		}
		return nil, fmt.Errorf("create project %q: %w", row.Name, err)
	}
	return &row, nil
}

func (s *SQLStore) UpdateProjectCredential(ctx context.Context, id, hash string) error {
	s.lockWrites()
	defer s.unlockWrites()

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE projects SET api_key_hash = ? WHERE id = ?`), normalizeHash(hash), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("update credential for project %q: %w", id, err)
	}
	return requireAffected(res, id)
}

func (s *SQLStore) DeleteProject(ctx context.Context, id string) error {
	s.lockWrites()
	defer s.unlockWrites()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete project %q: %w", id, err)
	}
	return requireAffected(res, id)
}

// FindOrCreateTeam relies on the unique team name so concurrent callers all
// end up with the same row.
func (s *SQLStore) FindOrCreateTeam(ctx context.Context, name string) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errTeamNameRequired
	}

	s.lockWrites()
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO NOTHING`), uuid.NewString(), name, s.timeValue(s.now().UTC()))
	s.unlockWrites()
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("create team %q: %w", name, err)
	}

	var (
		team      Team
		createdAt any
	)
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, created_at FROM teams WHERE name = ? LIMIT 1`), name).
		Scan(&team.ID, &team.Name, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("find team %q: %w", name, err)
	}
	team.CreatedAt = parseTime(createdAt)
	return &team, nil
}

func (s *SQLStore) lockWrites() {
	if s.driver == migrations.DriverSQLite {
		s.writeMu.Lock()
	}
}

func (s *SQLStore) unlockWrites() {
	if s.driver == migrations.DriverSQLite {
		s.writeMu.Unlock()
	}
}

// rebind rewrites "?" markers as "$n" for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != migrations.DriverPostgres {
		return query
	}
	var (
		out strings.Builder
		n   int
	)
	out.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// SQLite stores timestamps as RFC3339 text so they sort lexically.
func (s *SQLStore) timeValue(t time.Time) any {
	if s.driver == migrations.DriverSQLite {
		return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		project   Project
		createdAt any
	)
	if err := row.Scan(
		&project.ID,
		&project.TeamID,
		&project.Name,
		&project.Description,
		&project.Type,
		&project.APIKeyHash,
		&createdAt,
	); err != nil {
		return nil, err
	}
	project.CreatedAt = parseTime(createdAt)
	return &project, nil
}

func parseTime(value any) time.Time {
	switch typed := value.(type) {
	case time.Time:
		return typed.UTC()
	case string:
		return parseTimeText(typed)
	case []byte:
		return parseTimeText(string(typed))
	default:
		return time.Time{}
	}
}

func parseTimeText(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func requireAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows for project %q: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
