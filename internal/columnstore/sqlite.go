package columnstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteClient struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention between concurrent ingest requests.
	writeMu sync.Mutex
}

func NewSQLite(path string) (*SQLiteClient, error) {
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
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	client := &SQLiteClient{
		Path: path,
		db:   db,
	}
	if err := client.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return client, nil
}

func (c *SQLiteClient) Dialect() Dialect {
	return DialectSQLite
}

func (c *SQLiteClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteClient) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sqlite table %q existence: %w", name, err)
	}
	return count > 0, nil
}

func (c *SQLiteClient) CreateTable(ctx context.Context, ddl string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("%w: %v", ErrTableExists, err)
		}
		return fmt.Errorf("create sqlite table: %w", err)
	}
	return nil
}

func (c *SQLiteClient) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	statement, err := insertStatement(DialectSQLite, table, columns)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err = retrySQLiteBusy(ctx, func() error {
		return insertRows(ctx, c.db, statement, columns, rows)
	})
	if err != nil {
		return fmt.Errorf("insert into sqlite table %q: %w", table, err)
	}
	return nil
}

func (c *SQLiteClient) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := queryRows(ctx, c.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sqlite: %w", err)
	}
	return rows, nil
}

func (c *SQLiteClient) configure() error {
	if _, err := c.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := c.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := c.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries lock contention between this process and other
// readers of the same file. Any other error is returned on first failure.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		err   error
		timer *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
