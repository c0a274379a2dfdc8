package database

import (
	"context"
	"fmt"

	"github.com/jvmscope/jvmscope/internal/errors"
)

// initSchema creates the tables. Statements are idempotent.
func (d *Database) initSchema(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	for _, ddl := range schemaDDL {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}

var schemaDDL = []string{
	// JVMs that ever sent samples; the scheduler iterates over these.
	`CREATE TABLE IF NOT EXISTS agent_jvms (
		jvm TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		jvm_id TEXT NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	)`,

	// Content-addressed stacks; stack holds the frames as JSON.
	`CREATE TABLE IF NOT EXISTS thread_metadata (
		jvm TEXT NOT NULL,
		id TEXT NOT NULL,
		thread_name TEXT,
		state TEXT NOT NULL,
		stack TEXT NOT NULL,
		PRIMARY KEY (jvm, id)
	)`,

	`CREATE TABLE IF NOT EXISTS thread_occurrences (
		jvm TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		metadata_id TEXT NOT NULL,
		dump_id TEXT NOT NULL,
		count INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_thread_occurrences_jvm_ts ON thread_occurrences(jvm, timestamp)`,

	`CREATE TABLE IF NOT EXISTS flow_metadata (
		jvm TEXT NOT NULL,
		id TEXT NOT NULL,
		caller_class TEXT NOT NULL,
		caller_method TEXT NOT NULL,
		callee_class TEXT NOT NULL,
		callee_method TEXT NOT NULL,
		PRIMARY KEY (jvm, id)
	)`,

	`CREATE TABLE IF NOT EXISTS flow_occurrences (
		jvm TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		metadata_id TEXT NOT NULL,
		dump_id TEXT NOT NULL,
		count INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_occurrences_jvm_ts ON flow_occurrences(jvm, timestamp)`,

	// Signatures maps method names to descriptors, as JSON.
	`CREATE TABLE IF NOT EXISTS class_metadata (
		jvm TEXT NOT NULL,
		class_name TEXT NOT NULL,
		blacklisted BOOLEAN NOT NULL,
		signatures TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (jvm, class_name)
	)`,

	`CREATE TABLE IF NOT EXISTS blacklisted_classes (
		account_id TEXT NOT NULL,
		class_name TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, class_name)
	)`,

	// One lease per JVM. version increases on every committed state; the
	// owner token identifies the cycle holding the lease.
	`CREATE TABLE IF NOT EXISTS analysis_locks (
		jvm TEXT PRIMARY KEY,
		owner TEXT,
		expires_at TIMESTAMP,
		version BIGINT NOT NULL,
		state TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS flow_summaries (
		id TEXT PRIMARY KEY,
		jvm TEXT NOT NULL,
		window_from TIMESTAMP NOT NULL,
		window_to TIMESTAMP NOT NULL,
		flow_count INTEGER NOT NULL,
		summary TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_summaries_jvm_to ON flow_summaries(jvm, window_to)`,

	// Commands waiting for the agent. delivered_at is set when the agent
	// fetched them.
	`CREATE TABLE IF NOT EXISTS agent_commands (
		id TEXT PRIMARY KEY,
		jvm TEXT NOT NULL,
		feature TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		delivered_at TIMESTAMP
	)`,
}
