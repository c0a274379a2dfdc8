package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/model"
	"github.com/jvmscope/jvmscope/internal/retry"
)

// Acquire takes the analysis lease of jvm. It fails with step.ErrLockBusy
// while another owner holds an unexpired lease.
func (d *Database) Acquire(ctx context.Context, jvm model.AgentJVM, lease time.Duration) (step.Lock, error) {
	if err := jvm.Validate(); err != nil {
		return nil, err
	}
	key := jvm.String()
	owner := d.instanceID + "/" + uuid.NewString()

	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO analysis_locks (jvm, version) VALUES (?, 0) ON CONFLICT (jvm) DO NOTHING`, key); err != nil {
		if retry.IsTransactionConflict(err) {
			return nil, step.ErrLockBusy
		}
		return nil, fmt.Errorf("failed to create lock row: %w", err)
	}

	now := d.now()
	res, err := d.db.ExecContext(ctx, `
		UPDATE analysis_locks SET owner = ?, expires_at = ?
		WHERE jvm = ? AND (owner IS NULL OR expires_at IS NULL OR expires_at < ?)`,
		owner, now.Add(lease), key, now)
	if err != nil {
		// Two cycles racing for the same row: the loser is busy.
		if retry.IsTransactionConflict(err) {
			return nil, step.ErrLockBusy
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read lock result: %w", err)
	} else if n == 0 {
		return nil, step.ErrLockBusy
	}

	lock := &dbLock{d: d, jvm: jvm, owner: owner}
	var raw sql.NullString
	if err := d.db.QueryRowContext(ctx,
		`SELECT version, state FROM analysis_locks WHERE jvm = ? AND owner = ?`, key, owner,
	).Scan(&lock.version, &raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, step.ErrLockBusy
		}
		return nil, fmt.Errorf("failed to read analysis state: %w", err)
	}
	if raw.Valid && raw.String != "" {
		var state model.AnalysisState
		if err := json.Unmarshal([]byte(raw.String), &state); err != nil {
			_ = lock.Release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("failed to decode analysis state of %s: %w", key, err)
		}
		lock.stored = &state
	}

	d.logger.Debug().
		Str("agent_jvm", key).
		Str("owner", owner).
		Int64("version", lock.version).
		Msg("Analysis lock acquired")
	return lock, nil
}

// LoadAnalysisState reads the committed state of jvm without taking the
// lease. It returns nil when no cycle ever committed.
func (d *Database) LoadAnalysisState(ctx context.Context, jvm model.AgentJVM) (*model.AnalysisState, error) {
	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT state FROM analysis_locks WHERE jvm = ?`, jvm.String()).Scan(&raw)
	if err == sql.ErrNoRows || (err == nil && (!raw.Valid || raw.String == "")) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis state: %w", err)
	}
	var state model.AnalysisState
	if err := json.Unmarshal([]byte(raw.String), &state); err != nil {
		return nil, fmt.Errorf("failed to decode analysis state: %w", err)
	}
	return &state, nil
}

type dbLock struct {
	d       *Database
	jvm     model.AgentJVM
	owner   string
	version int64

	mu      sync.Mutex
	stored  *model.AnalysisState
	pending *model.AnalysisState
	done    bool
}

func (l *dbLock) State() (*model.AnalysisState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stored == nil {
		return nil, false
	}
	return l.stored.Clone(), true
}

func (l *dbLock) SetState(state *model.AnalysisState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = state.Clone()
}

// Commit writes the pending state and releases the lease in one statement.
// The write only applies while this lock still owns the row at the version
// it read.
func (l *dbLock) Commit(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return fmt.Errorf("lock of %s already released", l.jvm)
	}
	if l.pending == nil {
		return fmt.Errorf("no state set for %s", l.jvm)
	}
	encoded, err := json.Marshal(l.pending)
	if err != nil {
		return fmt.Errorf("failed to encode analysis state: %w", err)
	}

	var affected int64
	err = retry.Do(ctx, retry.StorageConflict(), func() error {
		res, err := l.d.db.ExecContext(ctx, `
			UPDATE analysis_locks
			SET state = ?, version = version + 1, owner = NULL, expires_at = NULL
			WHERE jvm = ? AND owner = ? AND version = ?`,
			string(encoded), l.jvm.String(), l.owner, l.version)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit analysis state: %w", err)
	}
	if affected == 0 {
		return step.ErrStaleCycle
	}

	l.done = true
	l.version++
	l.stored = l.pending
	l.d.logger.Debug().
		Str("agent_jvm", l.jvm.String()).
		Int64("version", l.version).
		Time("processed_until", l.pending.ProcessedUntil).
		Msg("Analysis state committed")
	return nil
}

// Release drops the lease if this lock still holds it. Releasing after a
// commit is a no-op.
func (l *dbLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	if _, err := l.d.db.ExecContext(ctx,
		`UPDATE analysis_locks SET owner = NULL, expires_at = NULL WHERE jvm = ? AND owner = ?`,
		l.jvm.String(), l.owner); err != nil {
		return fmt.Errorf("failed to release analysis lock: %w", err)
	}
	return nil
}
