package step

import (
	"context"
	"errors"
	"time"

	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/analysis/instrument"
	"github.com/jvmscope/jvmscope/internal/model"
)

var (
	// ErrLockBusy is returned by Locker.Acquire while another cycle holds
	// the lease of the AgentJVM.
	ErrLockBusy = errors.New("analysis lock is held by another cycle")

	// ErrStaleCycle is returned by Lock.Commit when the lease was lost or
	// the stored state changed since it was read.
	ErrStaleCycle = errors.New("analysis state changed since the lock was acquired")
)

// SampleSource returns the raw evidence of a window [from, to).
type SampleSource interface {
	FetchThreads(ctx context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.ThreadMetadata, []model.ThreadOccurrence, error)
	FetchFlows(ctx context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.FlowMetadata, []model.FlowOccurrence, error)
}

// ClassMetadataSource is the read-only class lookup used by the planner.
type ClassMetadataSource = instrument.ClassMetadataSource

// Locker hands out time-boxed exclusive leases per AgentJVM.
type Locker interface {
	Acquire(ctx context.Context, jvm model.AgentJVM, lease time.Duration) (Lock, error)
}

// Lock is a held lease with a custom state slot.
type Lock interface {
	// State returns the stored state, or false when none was ever committed.
	State() (*model.AnalysisState, bool)
	SetState(state *model.AnalysisState)
	// Commit writes the state if the lease and the version read at
	// acquisition still hold, and fails with ErrStaleCycle otherwise.
	Commit(ctx context.Context) error
	// Release drops the lease without writing state.
	Release(ctx context.Context) error
}

// Commander delivers commands to agents. A false result means the agent
// channel refused the command; it is not an error.
type Commander interface {
	Submit(ctx context.Context, jvm model.AgentJVM, cmd command.Command) (bool, error)
}

// SummarySink persists flow summaries.
type SummarySink interface {
	StoreFlowSummary(ctx context.Context, summary *model.FlowSummary) error
}

// ReportedConfiguration returns the instrumentation the agent reported last.
// It is optional; without it the committed configuration is trusted.
type ReportedConfiguration interface {
	// ReportedConfiguration returns false when the agent reported nothing
	// recently.
	ReportedConfiguration(ctx context.Context, jvm model.AgentJVM) (model.InstrumentationConfiguration, bool, error)
}
