package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// OpenOptions controls how a database file is opened.
type OpenOptions struct {
	ReadOnly     bool
	MaxOpenConns int
}

// Open opens the DuckDB file at path. An empty path opens an in-memory
// database.
func Open(ctx context.Context, path string, opts OpenOptions) (*sql.DB, error) {
	dsn := path
	if opts.ReadOnly && path != "" {
		dsn += "?access_mode=READ_ONLY"
	}

	connector, err := duckdbDriver.NewConnector(dsn, func(execer driver.ExecerContext) error {
		// Timestamps are stored and compared in UTC.
		_, _ = execer.ExecContext(context.Background(), "SET TimeZone = 'UTC'", nil)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns / 2)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
