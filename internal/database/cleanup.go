package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jvmscope/jvmscope/internal/errors"
)

// CleanupResult counts the rows removed by Cleanup.
type CleanupResult struct {
	ThreadOccurrences int64
	FlowOccurrences   int64
	ThreadMetadata    int64
	FlowMetadata      int64
	Summaries         int64
	Commands          int64
}

// Total sums all counters.
func (r CleanupResult) Total() int64 {
	return r.ThreadOccurrences + r.FlowOccurrences + r.ThreadMetadata +
		r.FlowMetadata + r.Summaries + r.Commands
}

// Cleanup deletes samples and summaries older than before, delivered
// commands older than before, and metadata no occurrence references
// anymore.
func (d *Database) Cleanup(ctx context.Context, before time.Time) (CleanupResult, error) {
	before = before.UTC()
	var res CleanupResult

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	steps := []struct {
		counter *int64
		query   string
		args    []any
	}{
		{&res.ThreadOccurrences, `DELETE FROM thread_occurrences WHERE timestamp < ?`, []any{before}},
		{&res.FlowOccurrences, `DELETE FROM flow_occurrences WHERE timestamp < ?`, []any{before}},
		{&res.ThreadMetadata, `DELETE FROM thread_metadata WHERE NOT EXISTS (
			SELECT 1 FROM thread_occurrences o
			WHERE o.jvm = thread_metadata.jvm AND o.metadata_id = thread_metadata.id)`, nil},
		{&res.FlowMetadata, `DELETE FROM flow_metadata WHERE NOT EXISTS (
			SELECT 1 FROM flow_occurrences o
			WHERE o.jvm = flow_metadata.jvm AND o.metadata_id = flow_metadata.id)`, nil},
		{&res.Summaries, `DELETE FROM flow_summaries WHERE window_to < ?`, []any{before}},
		{&res.Commands, `DELETE FROM agent_commands WHERE delivered_at IS NOT NULL AND delivered_at < ?`, []any{before}},
	}
	for _, s := range steps {
		r, err := tx.ExecContext(ctx, s.query, s.args...)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("failed to clean up: %w", err)
		}
		if n, err := r.RowsAffected(); err == nil {
			*s.counter = n
		}
	}
	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	if res.Total() > 0 {
		d.logger.Info().
			Time("before", before).
			Int64("thread_occurrences", res.ThreadOccurrences).
			Int64("flow_occurrences", res.FlowOccurrences).
			Int64("summaries", res.Summaries).
			Int64("commands", res.Commands).
			Msg("Cleaned up old data")
	}
	return res, nil
}
