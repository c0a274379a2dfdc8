package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jvmscope/jvmscope/internal/duckdb"
	"github.com/jvmscope/jvmscope/internal/model"
)

// touchJVM records that jvm sent data observed at seen.
func (d *Database) touchJVM(ctx context.Context, db duckdb.Execer, jvm model.AgentJVM, seen time.Time) error {
	if seen.IsZero() {
		seen = d.now()
	}
	row := &agentJVMRow{
		JVM:       jvm.String(),
		AccountID: jvm.AccountID,
		AgentID:   jvm.AgentID,
		JVMID:     jvm.JVMID,
		FirstSeen: seen.UTC(),
		LastSeen:  seen.UTC(),
	}
	if err := d.jvms.With(db).Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to record agent jvm %s: %w", jvm, err)
	}
	return nil
}

// ListAgentJVMs returns the JVMs that sent data at or after since, ordered
// by identity. A zero since lists every known JVM.
func (d *Database) ListAgentJVMs(ctx context.Context, since time.Time) ([]model.AgentJVM, error) {
	rows, err := d.jvms.Find(ctx, d.jvms.Query().
		Window("last_seen", since, time.Time{}).
		OrderBy("jvm"))
	if err != nil {
		return nil, err
	}
	out := make([]model.AgentJVM, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AgentJVM{AccountID: r.AccountID, AgentID: r.AgentID, JVMID: r.JVMID})
	}
	return out, nil
}
