package step

import (
	"time"

	"github.com/google/uuid"

	"github.com/jvmscope/jvmscope/internal/analysis/duration"
	"github.com/jvmscope/jvmscope/internal/analysis/instrument"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Phase is the position of a cycle in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLockAcquired
	PhaseAggregating
	PhasePlanning
	PhaseControllingDuration
	PhaseCommitting
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLockAcquired:
		return "lock_acquired"
	case PhaseAggregating:
		return "aggregating"
	case PhasePlanning:
		return "planning"
	case PhaseControllingDuration:
		return "controlling_duration"
	case PhaseCommitting:
		return "committing"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StepState is the scratch space of one cycle. Every call to Step builds
// its own and drops it on return.
type StepState struct {
	CycleID  string
	AgentJVM model.AgentJVM
	From, To time.Time
	Phase    Phase

	ThreadMetadata    map[string]model.ThreadMetadata
	ThreadOccurrences []model.ThreadOccurrence
	FlowMetadata      map[string]model.FlowMetadata
	FlowOccurrences   []model.FlowOccurrence

	Summary *model.FlowSummary
	// Selected holds the methods newly chosen for instrumentation.
	Selected []model.MethodID
	// Classes caches class metadata and the frames already resolved.
	Classes *instrument.Cache
	// Instrumented memoizes which frames ran instrumented code under the
	// configuration in force when the cycle started.
	Instrumented *instrument.InstrumentedFrames
}

func newStepState(jvm model.AgentJVM, classes ClassMetadataSource) *StepState {
	return &StepState{
		CycleID:  uuid.NewString(),
		AgentJVM: jvm,
		Phase:    PhaseIdle,
		Classes:  instrument.NewCache(jvm, classes),
	}
}

// Report describes a finished cycle.
type Report struct {
	CycleID  string
	AgentJVM model.AgentJVM
	From, To time.Time

	// Skipped is set when the window range was empty and nothing was
	// committed.
	Skipped bool

	Summary  *model.FlowSummary
	Plan     *instrument.Plan
	Duration duration.Decision

	InstrumentationAccepted bool
	ClassInfoRequested      bool
	SnapshotAccepted        bool

	// State is the committed analysis state.
	State *model.AnalysisState
}

func (s *StepState) report() *Report {
	return &Report{
		CycleID:  s.CycleID,
		AgentJVM: s.AgentJVM,
		From:     s.From,
		To:       s.To,
	}
}
