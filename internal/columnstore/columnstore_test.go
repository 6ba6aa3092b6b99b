package columnstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteClient {
	t.Helper()

	client, err := NewSQLite(filepath.Join(t.TempDir(), "columns.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

const testDDL = `CREATE TABLE events (id TEXT NOT NULL, n INTEGER NOT NULL, at INTEGER NOT NULL)`

func TestEnsureTableCreatesOnceAndToleratesExisting(t *testing.T) {
	t.Parallel()

	client := newTestSQLite(t)
	ctx := context.Background()

	if err := EnsureTable(ctx, client, "events", testDDL); err != nil {
		t.Fatalf("first EnsureTable() error: %v", err)
	}
	if err := EnsureTable(ctx, client, "events", testDDL); err != nil {
		t.Fatalf("second EnsureTable() error: %v", err)
	}
	exists, err := client.TableExists(ctx, "events")
	if err != nil {
		t.Fatalf("TableExists() error: %v", err)
	}
	if !exists {
		t.Fatal("expected events table to exist")
	}
}

// raceClient reports the table missing on the first check, then fails
// creation the way a losing concurrent creator would.
type raceClient struct {
	*SQLiteClient
	mu     sync.Mutex
	checks int
}

func (c *raceClient) TableExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	c.checks++
	first := c.checks == 1
	c.mu.Unlock()
	if first {
		return false, nil
	}
	return c.SQLiteClient.TableExists(ctx, name)
}

func TestEnsureTableToleratesLosingCreationRace(t *testing.T) {
	t.Parallel()

	inner := newTestSQLite(t)
	ctx := context.Background()
	if err := inner.CreateTable(ctx, testDDL); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}

	client := &raceClient{SQLiteClient: inner}
	if err := EnsureTable(ctx, client, "events", testDDL); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
}

func TestCreateTableReportsExistingTable(t *testing.T) {
	t.Parallel()

	client := newTestSQLite(t)
	ctx := context.Background()
	if err := client.CreateTable(ctx, testDDL); err != nil {
		t.Fatalf("CreateTable() error: %v", err)
	}
	err := client.CreateTable(ctx, testDDL)
	if !errors.Is(err, ErrTableExists) {
		t.Fatalf("CreateTable() error=%v, want ErrTableExists", err)
	}
}

func TestEnsureTableConcurrentCallers(t *testing.T) {
	t.Parallel()

	client := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- EnsureTable(ctx, client, "events", testDDL)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureTable() error: %v", err)
		}
	}
}

func TestInsertAndQueryRoundTrip(t *testing.T) {
	t.Parallel()

	client := newTestSQLite(t)
	ctx := context.Background()
	if err := EnsureTable(ctx, client, "events", testDDL); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	rows := [][]any{
		{"a", int64(1), DialectSQLite.TimeValue(at)},
		{"b", int64(2), DialectSQLite.TimeValue(at.Add(time.Second))},
	}
	if err := client.Insert(ctx, "events", []string{"id", "n", "at"}, rows); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := client.Query(ctx, `SELECT id, n, at FROM events ORDER BY at DESC`)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(rows)=%d, want 2", len(got))
	}
	if got[0].String("id") != "b" || got[0].Int64("n") != 2 {
		t.Fatalf("first row=%v", got[0])
	}
	if !got[1].Time("at").Equal(at) {
		t.Fatalf("at=%v, want %v", got[1].Time("at"), at)
	}
}

func TestInsertRejectsBadInput(t *testing.T) {
	t.Parallel()

	client := newTestSQLite(t)
	ctx := context.Background()
	if err := EnsureTable(ctx, client, "events", testDDL); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}

	if err := client.Insert(ctx, "events; DROP TABLE events", []string{"id"}, [][]any{{"x"}}); err == nil {
		t.Fatal("expected invalid table name to fail")
	}
	if err := client.Insert(ctx, "events", []string{"id", "n", "at"}, [][]any{{"x"}}); err == nil {
		t.Fatal("expected short row to fail")
	}
	if err := client.Insert(ctx, "missing", []string{"id"}, [][]any{{"x"}}); err == nil {
		t.Fatal("expected insert into missing table to fail")
	}

	rows, err := client.Query(ctx, `SELECT COUNT(*) AS n FROM events`)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if rows[0].Int64("n") != 0 {
		t.Fatalf("rows after failed inserts=%d, want 0", rows[0].Int64("n"))
	}
}

func TestDialectHelpers(t *testing.T) {
	t.Parallel()

	if got := DialectPostgres.Placeholders(3, 3); got != "$3, $4, $5" {
		t.Fatalf("postgres placeholders=%q", got)
	}
	if got := DialectSQLite.Placeholders(1, 2); got != "?, ?" {
		t.Fatalf("sqlite placeholders=%q", got)
	}
	if got := DialectSQLite.TimeValue(time.Time{}); got != int64(0) {
		t.Fatalf("zero sqlite time=%v, want 0", got)
	}
	if got := (Row{"at": int64(0)}).Time("at"); !got.IsZero() {
		t.Fatalf("zero row time=%v", got)
	}
}

func TestRetrySQLiteBusyRetriesTransientContention(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retrySQLiteBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retrySQLiteBusy() error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("retry attempts=%d, want %d", attempts, 3)
	}
}

func TestRetrySQLiteBusyHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retrySQLiteBusy(ctx, func() error {
		attempts++
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retrySQLiteBusy() error=%v, want %v", err, context.Canceled)
	}
	if attempts != 1 {
		t.Fatalf("retry attempts=%d, want %d", attempts, 1)
	}
}

func TestPostgresClientEnsureTableIntegration(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TRACEHUB_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("TRACEHUB_TEST_POSTGRES_DSN is not set")
	}

	client, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres() error: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx := context.Background()
	table := "columnstore_it_" + strings.ReplaceAll(time.Now().UTC().Format("150405.000000"), ".", "_")
	ddl := `CREATE TABLE ` + table + ` (id TEXT NOT NULL, at TIMESTAMPTZ NOT NULL)`
	t.Cleanup(func() {
		_, _ = client.db.Exec(`DROP TABLE IF EXISTS ` + table)
	})

	if err := EnsureTable(ctx, client, table, ddl); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
	if err := EnsureTable(ctx, client, table, ddl); err != nil {
		t.Fatalf("second EnsureTable() error: %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := client.Insert(ctx, table, []string{"id", "at"}, [][]any{{"a", DialectPostgres.TimeValue(at)}}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	rows, err := client.Query(ctx, `SELECT id, at FROM `+table)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(rows) != 1 || !rows[0].Time("at").Equal(at) {
		t.Fatalf("rows=%v", rows)
	}
}
