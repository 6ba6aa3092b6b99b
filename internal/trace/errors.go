package trace

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error classes reported on span write failures.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassSchema     = "schema"
	WriteErrorClassUnknown    = "unknown"
)

// pgClassPrefixes maps SQLSTATE classes to error classes.
var pgClassPrefixes = map[string]string{
	"08": WriteErrorClassConnection,
	"23": WriteErrorClassConstraint,
	"42": WriteErrorClassSchema,
	"53": WriteErrorClassContention,
	"57": WriteErrorClassConnection,
}

var pgContentionCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// messageClasses is checked in order against the lowercased error text when
// the driver did not keep a typed error.
var messageClasses = []struct {
	class     string
	fragments []string
}{
	{WriteErrorClassConnection, []string{"connection refused", "broken pipe", "no such host", "connection reset"}},
	{WriteErrorClassTimeout, []string{"timeout", "deadline exceeded"}},
	{WriteErrorClassContention, []string{"sqlite_busy", "database is locked", "database table is locked"}},
	{WriteErrorClassConstraint, []string{"violates foreign key constraint", "violates unique constraint", "violates check constraint", "duplicate key", "constraint failed"}},
	{WriteErrorClassSchema, []string{"no such table", "no such column", "has no column named", "does not exist"}},
}

// ClassifyWriteError maps a column-store error onto a small fixed set of
// classes used as a metric attribute.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	// Timeout before connection: a net.Error can be both.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := pgContentionCodes[pgErr.Code]; ok {
			return WriteErrorClassContention
		}
		if len(pgErr.Code) >= 2 {
			if class, ok := pgClassPrefixes[pgErr.Code[:2]]; ok {
				return class
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, candidate := range messageClasses {
		for _, fragment := range candidate.fragments {
			if strings.Contains(msg, fragment) {
				return candidate.class
			}
		}
	}
	return WriteErrorClassUnknown
}
