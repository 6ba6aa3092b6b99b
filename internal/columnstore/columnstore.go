// Package columnstore is the append-optimized store spans and agent mappings
// are written to. It exposes a narrow client surface (table existence, DDL,
// bulk insert, query) so the write path and the reconciler never depend on a
// particular engine.
package columnstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect names the SQL flavour a Client speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrTableExists reports that CreateTable lost a race with another creator.
var ErrTableExists = errors.New("table already exists")

// Client is the column-store collaborator.
type Client interface {
	Dialect() Dialect
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, ddl string) error
	Insert(ctx context.Context, table string, columns []string, rows [][]any) error
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Close() error
}

// Open returns the client for driver ("sqlite" or "postgres").
func Open(driver, path, dsn string) (Client, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(driver))) {
	case DialectSQLite:
		return NewSQLite(path)
	case DialectPostgres:
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported column store driver %q", driver)
	}
}

// EnsureTable creates name with ddl unless it already exists. A concurrent
// creator winning the race is not an error.
func EnsureTable(ctx context.Context, client Client, name, ddl string) error {
	if client == nil {
		return fmt.Errorf("column store client is required")
	}
	if err := ValidateIdentifier(name); err != nil {
		return err
	}

	exists, err := client.TableExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check table %q: %w", name, err)
	}
	if exists {
		return nil
	}

	createErr := client.CreateTable(ctx, ddl)
	if createErr == nil || errors.Is(createErr, ErrTableExists) {
		return nil
	}
	exists, err = client.TableExists(ctx, name)
	if err == nil && exists {
		return nil
	}
	return fmt.Errorf("create table %q: %w", name, createErr)
}

// ValidateIdentifier accepts plain SQL identifiers: a letter or underscore
// followed by letters, digits or underscores.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma-separated bind markers starting at start.
func (d Dialect) Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// TimestampType is the column type timestamps are stored as. SQLite keeps
// Unix nanoseconds in an INTEGER so ordering is numeric.
func (d Dialect) TimestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "INTEGER"
}

// TimeValue converts t into the bind value matching TimestampType.
func (d Dialect) TimeValue(t time.Time) any {
	if d == DialectPostgres {
		return t.UTC()
	}
	if t.IsZero() {
		return int64(0)
	}
	return t.UnixNano()
}

// Row is one result row keyed by column name.
type Row map[string]any

// String returns the column as text; missing or NULL columns read as "".
func (r Row) String(column string) string {
	switch value := r[column].(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(value)
	}
}

// Int64 returns the column as an integer; unreadable values read as 0.
func (r Row) Int64(column string) int64 {
	switch value := r[column].(type) {
	case int64:
		return value
	case int32:
		return int64(value)
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
		return n
	default:
		return 0
	}
}

// Time returns the column as a UTC timestamp. Integers are Unix nanoseconds.
func (r Row) Time(column string) time.Time {
	switch value := r[column].(type) {
	case time.Time:
		return value.UTC()
	case int64:
		if value == 0 {
			return time.Time{}
		}
		return time.Unix(0, value).UTC()
	case string:
		return parseTimeText(value)
	case []byte:
		return parseTimeText(string(value))
	default:
		return time.Time{}
	}
}

func parseTimeText(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if nanos == 0 {
			return time.Time{}
		}
		return time.Unix(0, nanos).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
