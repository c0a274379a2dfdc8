package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Submit queues cmd for the agent of jvm. A snapshot command is refused
// while an earlier snapshot is still waiting for delivery. A new
// instrumentation command supersedes undelivered ones.
func (d *Database) Submit(ctx context.Context, jvm model.AgentJVM, cmd command.Command) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("invalid command: %w", err)
	}
	payload, err := cmd.Encode()
	if err != nil {
		return false, fmt.Errorf("failed to encode command: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	switch cmd.Feature {
	case command.FeatureSnapshot:
		var pending int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM agent_commands
			WHERE jvm = ? AND feature = ? AND delivered_at IS NULL`,
			jvm.String(), cmd.Feature.String()).Scan(&pending); err != nil {
			return false, fmt.Errorf("failed to count pending snapshots: %w", err)
		}
		if pending > 0 {
			d.logger.Debug().
				Str("agent_jvm", jvm.String()).
				Msg("Snapshot refused, previous one not delivered")
			return false, nil
		}
	case command.FeatureInstrumentation:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM agent_commands
			WHERE jvm = ? AND feature = ? AND delivered_at IS NULL`,
			jvm.String(), cmd.Feature.String()); err != nil {
			return false, fmt.Errorf("failed to drop superseded instrumentation: %w", err)
		}
	}

	row := &commandRow{
		ID:        cmd.ID,
		JVM:       jvm.String(),
		Feature:   cmd.Feature.String(),
		Payload:   string(payload),
		CreatedAt: cmd.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = d.now()
	}
	if err := d.commands.With(tx).Upsert(ctx, row); err != nil {
		return false, fmt.Errorf("failed to queue command: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit command: %w", err)
	}

	d.logger.Debug().
		Str("agent_jvm", jvm.String()).
		Str("command_id", cmd.ID).
		Str("feature", cmd.Feature.String()).
		Msg("Command queued")
	return true, nil
}

// FetchPendingCommands returns the undelivered commands of jvm in
// submission order and marks them delivered.
func (d *Database) FetchPendingCommands(ctx context.Context, jvm model.AgentJVM) ([]command.Command, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	rows, err := d.commands.With(tx).Find(ctx, d.commands.Query().
		Eq("jvm", jvm.String()).
		Where("delivered_at IS NULL").
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]command.Command, 0, len(rows))
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		cmd, err := command.Decode([]byte(r.Payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decode command %s: %w", r.ID, err)
		}
		out = append(out, cmd)
		ids = append(ids, r.ID)
	}

	args := append([]any{sql.NullTime{Time: d.now(), Valid: true}}, ids...)
	// #nosec G202 -- placeholders only.
	query := "UPDATE agent_commands SET delivered_at = ? WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to mark commands delivered: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 3*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
