package database

import (
	"context"
	"time"

	"github.com/jvmscope/jvmscope/internal/model"
)

func (d *Database) SetClock(now func() time.Time) {
	d.now = now
}

// ExpireLease makes the current lease of jvm look expired, as if its cycle
// overran.
func (d *Database) ExpireLease(ctx context.Context, jvm model.AgentJVM) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE analysis_locks SET expires_at = ? WHERE jvm = ?`, d.now().Add(-time.Second), jvm.String())
	return err
}
