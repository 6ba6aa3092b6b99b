package columnstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgDuplicateTable  = "42P07"
	pgUniqueViolation = "23505"
)

type PostgresClient struct {
	DSN string
	db  *sql.DB
}

func NewPostgres(dsn string) (*PostgresClient, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	return &PostgresClient{DSN: dsn, db: db}, nil
}

func (c *PostgresClient) Dialect() Dialect {
	return DialectPostgres
}

func (c *PostgresClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PostgresClient) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1 FROM information_schema.tables
    WHERE table_schema = current_schema() AND table_name = $1
)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check postgres table %q existence: %w", name, err)
	}
	return exists, nil
}

func (c *PostgresClient) CreateTable(ctx context.Context, ddl string) error {
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		// Two concurrent CREATE TABLE IF NOT EXISTS can still collide on the
		// pg_type row, which surfaces as a unique violation.
		if isPostgresCode(err, pgDuplicateTable) || isPostgresCode(err, pgUniqueViolation) {
			return fmt.Errorf("%w: %v", ErrTableExists, err)
		}
		return fmt.Errorf("create postgres table: %w", err)
	}
	return nil
}

func (c *PostgresClient) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	statement, err := insertStatement(DialectPostgres, table, columns)
	if err != nil {
		return err
	}
	if err := insertRows(ctx, c.db, statement, columns, rows); err != nil {
		return fmt.Errorf("insert into postgres table %q: %w", table, err)
	}
	return nil
}

func (c *PostgresClient) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := queryRows(ctx, c.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query postgres: %w", err)
	}
	return rows, nil
}

func isPostgresCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code
}
