package duckdb

import (
	"fmt"
	"strings"
	"time"
)

// Builder assembles a SELECT statement. It only generates SQL; callers run
// it themselves.
type Builder struct {
	table   string
	columns []string
	where   []string
	args    []any
	order   []string
	limit   int
}

// Select starts a query over table.
func Select(table string) *Builder {
	return &Builder{table: table}
}

// Columns sets the selected expressions. Without columns the query selects *.
func (b *Builder) Columns(columns ...string) *Builder {
	b.columns = columns
	return b
}

// Where adds a condition. Conditions are joined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.where = append(b.where, expr)
	b.args = append(b.args, args...)
	return b
}

// Eq adds column = value. Empty strings are skipped so that an unset
// filter matches everything.
func (b *Builder) Eq(column string, value any) *Builder {
	if s, ok := value.(string); ok && s == "" {
		return b
	}
	return b.Where(column+" = ?", value)
}

// In adds column IN (...). An empty list is skipped.
func (b *Builder) In(column string, values ...any) *Builder {
	if len(values) == 0 {
		return b
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.Where(fmt.Sprintf("%s IN (%s)", column, placeholders), values...)
}

// Window adds the half-open range from <= column < to. A zero bound is
// left open.
func (b *Builder) Window(column string, from, to time.Time) *Builder {
	if !from.IsZero() {
		b.Where(column+" >= ?", from)
	}
	if !to.IsZero() {
		b.Where(column+" < ?", to)
	}
	return b
}

// OrderBy adds sort columns; a leading "-" sorts descending.
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, c := range columns {
		if strings.HasPrefix(c, "-") {
			b.order = append(b.order, c[1:]+" DESC")
		} else {
			b.order = append(b.order, c)
		}
	}
	return b
}

// Limit caps the number of rows; zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build returns the statement and its arguments.
func (b *Builder) Build() (string, []any) {
	var q strings.Builder
	q.WriteString("SELECT ")
	if len(b.columns) == 0 {
		q.WriteString("*")
	} else {
		q.WriteString(strings.Join(b.columns, ", "))
	}
	q.WriteString(" FROM ")
	q.WriteString(b.table)

	if len(b.where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(b.where, " AND "))
	}
	if len(b.order) > 0 {
		q.WriteString(" ORDER BY ")
		q.WriteString(strings.Join(b.order, ", "))
	}

	args := append([]any(nil), b.args...)
	if b.limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	return q.String(), args
}
