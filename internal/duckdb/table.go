package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jvmscope/jvmscope/internal/retry"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type column struct {
	name      string
	field     int
	pk        bool
	immutable bool
}

// Table maps struct type T onto a table. Fields tagged `duckdb:"name"` are
// columns; the options `pk` and `immutable` exclude a column from the
// update set of an upsert.
type Table[T any] struct {
	db      Execer
	name    string
	columns []column
}

// NewTable builds the column mapping of T. It panics when T is not a
// struct.
func NewTable[T any](db Execer, name string) *Table[T] {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("duckdb: table %s: %s is not a struct", name, typ))
	}

	t := &Table[T]{db: db, name: name}
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		c := column{name: strings.TrimSpace(parts[0]), field: i}
		for _, opt := range parts[1:] {
			switch strings.TrimSpace(opt) {
			case "pk":
				c.pk = true
			case "immutable":
				c.immutable = true
			}
		}
		t.columns = append(t.columns, c)
	}
	return t
}

// With returns a copy of the table bound to db, typically a transaction.
func (t *Table[T]) With(db Execer) *Table[T] {
	out := *t
	out.db = db
	return &out
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

func (t *Table[T]) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

func (t *Table[T]) upsertQuery() string {
	names := t.columnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	// #nosec G201 -- identifiers come from struct tags.
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(names, ", "), placeholders)

	var keys, updates []string
	for _, c := range t.columns {
		switch {
		case c.pk:
			keys = append(keys, c.name)
		case !c.immutable:
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c.name, c.name))
		}
	}
	if len(keys) == 0 {
		return query
	}
	if len(updates) == 0 {
		return query + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(updates, ", "))
}

func (t *Table[T]) values(item *T) []any {
	v := reflect.ValueOf(item).Elem()
	out := make([]any, len(t.columns))
	for i, c := range t.columns {
		out[i] = v.Field(c.field).Interface()
	}
	return out
}

// Upsert inserts item or updates the row with the same primary key. DuckDB
// write conflicts are retried.
func (t *Table[T]) Upsert(ctx context.Context, item *T) error {
	query := t.upsertQuery()
	args := t.values(item)
	return retry.Do(ctx, retry.StorageConflict(), func() error {
		_, err := t.db.ExecContext(ctx, query, args...)
		return err
	})
}

// BatchUpsert upserts items with one prepared statement. On a *sql.DB the
// batch runs in its own transaction; on a *sql.Tx it joins the caller's.
func (t *Table[T]) BatchUpsert(ctx context.Context, items []*T) (err error) {
	if len(items) == 0 {
		return nil
	}

	var tx *sql.Tx
	switch db := t.db.(type) {
	case *sql.Tx:
		tx = db
	case *sql.DB:
		tx, err = db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
				return
			}
			if err = tx.Commit(); err != nil {
				err = fmt.Errorf("failed to commit %s batch: %w", t.name, err)
			}
		}()
	default:
		return fmt.Errorf("batch upsert into %s needs *sql.DB or *sql.Tx, got %T", t.name, t.db)
	}

	stmt, err := tx.PrepareContext(ctx, t.upsertQuery())
	if err != nil {
		return fmt.Errorf("failed to prepare %s upsert: %w", t.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err = stmt.ExecContext(ctx, t.values(item)...); err != nil {
			return fmt.Errorf("failed to upsert into %s: %w", t.name, err)
		}
	}
	return nil
}

// Get loads the row whose first primary key column equals key. It returns
// nil without error when no row matches.
func (t *Table[T]) Get(ctx context.Context, key any) (*T, error) {
	var pk string
	for _, c := range t.columns {
		if c.pk {
			pk = c.name
			break
		}
	}
	if pk == "" {
		return nil, fmt.Errorf("table %s has no primary key", t.name)
	}

	query, args := Select(t.name).Columns(t.columnNames()...).Eq(pk, key).Build()
	item, err := t.scan(t.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// Find runs a query built from q, selecting the table's columns.
func (t *Table[T]) Find(ctx context.Context, q *Builder) ([]*T, error) {
	query, args := q.Columns(t.columnNames()...).Build()
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*T
	for rows.Next() {
		item, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.name, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Query starts a builder over this table.
func (t *Table[T]) Query() *Builder {
	return Select(t.name)
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *Table[T]) scan(row scanner) (*T, error) {
	var item T
	v := reflect.ValueOf(&item).Elem()
	dest := make([]any, len(t.columns))
	for i, c := range t.columns {
		dest[i] = v.Field(c.field).Addr().Interface()
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &item, nil
}
