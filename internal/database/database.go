// Package database persists raw samples, metadata, analysis state and
// derived summaries in DuckDB, and implements the collaborators the
// analysis cycle talks to.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/duckdb"
	"github.com/jvmscope/jvmscope/internal/logging"
)

var (
	_ step.SampleSource        = (*Database)(nil)
	_ step.ClassMetadataSource = (*Database)(nil)
	_ step.Locker              = (*Database)(nil)
	_ step.Commander           = (*Database)(nil)
	_ step.SummarySink         = (*Database)(nil)
)

// Database wraps the DuckDB connection.
type Database struct {
	db         *sql.DB
	path       string
	instanceID string
	logger     zerolog.Logger
	now        func() time.Time

	threadMeta  *duckdb.Table[threadMetadataRow]
	threadOccs  *duckdb.Table[threadOccurrenceRow]
	flowMeta    *duckdb.Table[flowMetadataRow]
	flowOccs    *duckdb.Table[flowOccurrenceRow]
	classes     *duckdb.Table[classMetadataRow]
	blacklist   *duckdb.Table[blacklistRow]
	jvms        *duckdb.Table[agentJVMRow]
	commands    *duckdb.Table[commandRow]
	summaryRows *duckdb.Table[summaryRow]
}

// New opens (creating if needed) <storagePath>/<instanceID>.duckdb and
// initializes the schema.
func New(ctx context.Context, storagePath, instanceID string, logger zerolog.Logger) (*Database, error) {
	return open(ctx, storagePath, instanceID, logger, false)
}

// NewReadOnly opens an existing database for inspection while another
// process owns it.
func NewReadOnly(ctx context.Context, storagePath, instanceID string, logger zerolog.Logger) (*Database, error) {
	return open(ctx, storagePath, instanceID, logger, true)
}

func open(ctx context.Context, storagePath, instanceID string, logger zerolog.Logger, readOnly bool) (*Database, error) {
	if err := os.MkdirAll(storagePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	path := filepath.Join(storagePath, instanceID+".duckdb")

	db, err := duckdb.Open(ctx, path, duckdb.OpenOptions{ReadOnly: readOnly, MaxOpenConns: 8})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &Database{
		db:         db,
		path:       path,
		instanceID: instanceID,
		logger:     logging.Component(logger, "database"),
		now:        func() time.Time { return time.Now().UTC() },

		threadMeta:  duckdb.NewTable[threadMetadataRow](db, "thread_metadata"),
		threadOccs:  duckdb.NewTable[threadOccurrenceRow](db, "thread_occurrences"),
		flowMeta:    duckdb.NewTable[flowMetadataRow](db, "flow_metadata"),
		flowOccs:    duckdb.NewTable[flowOccurrenceRow](db, "flow_occurrences"),
		classes:     duckdb.NewTable[classMetadataRow](db, "class_metadata"),
		blacklist:   duckdb.NewTable[blacklistRow](db, "blacklisted_classes"),
		jvms:        duckdb.NewTable[agentJVMRow](db, "agent_jvms"),
		commands:    duckdb.NewTable[commandRow](db, "agent_commands"),
		summaryRows: duckdb.NewTable[summaryRow](db, "flow_summaries"),
	}

	if !readOnly {
		if err := d.initSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.logger.Info().
		Str("path", path).
		Bool("read_only", readOnly).
		Msg("Database initialized")
	return d, nil
}

// Close closes the connection.
func (d *Database) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.logger.Info().Str("path", d.path).Msg("Database closed")
	return nil
}

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}
