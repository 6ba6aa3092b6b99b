// Package trace persists canonical spans in the column store and reads them
// back a page of traces at a time.
package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracehub/tracehub/internal/columnstore"
	"github.com/tracehub/tracehub/internal/span"
)

const (
	SpansTable = "spans"

	DefaultPageSize = 10
	MaxPageSize     = 100
)

var (
	ErrProjectRequired  = errors.New("project id is required")
	ErrPageSizeTooLarge = fmt.Errorf("page size cannot exceed %d", MaxPageSize)
)

var spanColumns = []string{
	"project_id",
	"trace_id",
	"span_id",
	"parent_id",
	"name",
	"kind",
	"start_time",
	"end_time",
	"attributes",
	"ingested_at",
}

// SpanFilter selects one page of traces for a project. Keyword matches span
// names case-insensitively; a trace is included when any of its spans match.
type SpanFilter struct {
	ProjectID string
	Page      int
	PageSize  int
	Keyword   string
}

type Metadata struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalLen   int `json:"total_len"`
}

// SpanPage holds every span of the traces on one page, flat.
type SpanPage struct {
	Spans    []span.Span
	Metadata Metadata
}

// Store is the span write and read path over a column store.
type Store struct {
	client columnstore.Client
	now    func() time.Time

	ensureMu sync.Mutex
	ready    atomic.Bool
}

func NewStore(client columnstore.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
	}
}

// EnsureSchema creates the spans table if needed. It runs at most once
// successfully per Store; failures are retried on the next call.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ready.Load() {
		return nil
	}

	dialect := s.client.Dialect()
	if err := columnstore.EnsureTable(ctx, s.client, SpansTable, spansDDL(dialect)); err != nil {
		return fmt.Errorf("ensure spans table: %w", err)
	}
	if err := s.client.CreateTable(ctx, `CREATE INDEX IF NOT EXISTS idx_spans_project_trace ON spans (project_id, trace_id)`); err != nil && !errors.Is(err, columnstore.ErrTableExists) {
		return fmt.Errorf("ensure spans index: %w", err)
	}
	s.ready.Store(true)
	return nil
}

func spansDDL(dialect columnstore.Dialect) string {
	ts := dialect.TimestampType()
	return `CREATE TABLE IF NOT EXISTS spans (
    project_id TEXT NOT NULL,
    trace_id TEXT NOT NULL,
    span_id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    kind INTEGER NOT NULL DEFAULT 0,
    start_time ` + ts + ` NOT NULL,
    end_time ` + ts + ` NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}',
    ingested_at ` + ts + ` NOT NULL
)`
}

// Write appends spans tagged with projectID. Nothing is deduplicated; a span
// written twice is stored twice. Store errors are returned wrapped.
func (s *Store) Write(ctx context.Context, spans []span.Span, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ErrProjectRequired
	}
	if len(spans) == 0 {
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	dialect := s.client.Dialect()
	ingestedAt := dialect.TimeValue(s.now())
	rows := make([][]any, 0, len(spans))
	for _, item := range spans {
		attributes, err := span.EncodeAttributes(item.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes for span %q: %w", item.SpanID, err)
		}
		rows = append(rows, []any{
			projectID,
			item.TraceID,
			item.SpanID,
			item.ParentID,
			item.Name,
			int64(item.Kind),
			dialect.TimeValue(item.StartTime),
			dialect.TimeValue(item.EndTime),
			attributes,
			ingestedAt,
		})
	}

	if err := s.client.Insert(ctx, SpansTable, spanColumns, rows); err != nil {
		return fmt.Errorf("write %d spans for project %q: %w", len(spans), projectID, err)
	}
	return nil
}

// QueryProjectSpans returns every span belonging to one page of a project's
// traces, newest trace (by latest span start) first.
func (s *Store) QueryProjectSpans(ctx context.Context, filter SpanFilter) (*SpanPage, error) {
	filter.ProjectID = strings.TrimSpace(filter.ProjectID)
	if filter.ProjectID == "" {
		return nil, ErrProjectRequired
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		return nil, ErrPageSizeTooLarge
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	dialect := s.client.Dialect()
	where, args := traceWhere(dialect, filter)

	countRows, err := s.client.Query(ctx, `SELECT COUNT(DISTINCT trace_id) AS total FROM spans WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("count traces for project %q: %w", filter.ProjectID, err)
	}
	total := 0
	if len(countRows) > 0 {
		total = int(countRows[0].Int64("total"))
	}

	page := &SpanPage{
		Metadata: Metadata{
			Page:       filter.Page,
			PageSize:   filter.PageSize,
			TotalPages: (total + filter.PageSize - 1) / filter.PageSize,
			TotalLen:   total,
		},
	}
	if total == 0 {
		return page, nil
	}

	limitArg := len(args) + 1
	pageArgs := append(append([]any(nil), args...), filter.PageSize, (filter.Page-1)*filter.PageSize)
	idRows, err := s.client.Query(ctx, `
SELECT trace_id, MAX(start_time) AS last_start
FROM spans
WHERE `+where+`
GROUP BY trace_id
ORDER BY last_start DESC, trace_id ASC
LIMIT `+dialect.Placeholder(limitArg)+` OFFSET `+dialect.Placeholder(limitArg+1), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("select trace page for project %q: %w", filter.ProjectID, err)
	}
	if len(idRows) == 0 {
		return page, nil
	}

	spanArgs := []any{filter.ProjectID}
	for _, row := range idRows {
		spanArgs = append(spanArgs, row.String("trace_id"))
	}
	spanRows, err := s.client.Query(ctx, `
SELECT project_id, trace_id, span_id, parent_id, name, kind, start_time, end_time, attributes
FROM spans
WHERE project_id = `+dialect.Placeholder(1)+`
  AND trace_id IN (`+dialect.Placeholders(2, len(idRows))+`)
ORDER BY start_time ASC`, spanArgs...)
	if err != nil {
		return nil, fmt.Errorf("select spans for project %q: %w", filter.ProjectID, err)
	}

	page.Spans = make([]span.Span, 0, len(spanRows))
	for _, row := range spanRows {
		page.Spans = append(page.Spans, spanFromRow(row))
	}
	return page, nil
}

func traceWhere(dialect columnstore.Dialect, filter SpanFilter) (string, []any) {
	where := "project_id = " + dialect.Placeholder(1)
	args := []any{filter.ProjectID}

	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	if keyword == "" {
		return where, args
	}
	where += ` AND trace_id IN (
    SELECT trace_id FROM spans
    WHERE project_id = ` + dialect.Placeholder(2) + `
      AND LOWER(name) LIKE ` + dialect.Placeholder(3) + ` ESCAPE '\'
)`
	args = append(args, filter.ProjectID, "%"+escapeLike(keyword)+"%")
	return where, args
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func spanFromRow(row columnstore.Row) span.Span {
	return span.Span{
		TraceID:    row.String("trace_id"),
		SpanID:     row.String("span_id"),
		ParentID:   row.String("parent_id"),
		Name:       row.String("name"),
		StartTime:  row.Time("start_time"),
		EndTime:    row.Time("end_time"),
		Kind:       span.KindFromCode(row.Int64("kind")),
		Attributes: span.AttributesFrom(row.String("attributes")),
		ProjectID:  row.String("project_id"),
	}
}
