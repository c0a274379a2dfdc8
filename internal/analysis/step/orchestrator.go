// Package step runs one analysis cycle for an AgentJVM: aggregate the
// window, plan instrumentation, tune the snapshot duration and commit the
// resulting state under the JVM's lease.
package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/analysis/duration"
	"github.com/jvmscope/jvmscope/internal/analysis/instrument"
	"github.com/jvmscope/jvmscope/internal/logging"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Config tunes the orchestrator.
type Config struct {
	// LockLease is how long a cycle may hold the AgentJVM lease.
	LockLease time.Duration
	// InitialSnapshotDuration seeds the controller for a new JVM.
	InitialSnapshotDuration int
}

// Dependencies are the collaborators a cycle talks to.
type Dependencies struct {
	Samples   SampleSource
	Classes   ClassMetadataSource
	Locker    Locker
	Commander Commander
	Summaries SummarySink
	// Reported is optional.
	Reported ReportedConfiguration
}

// Orchestrator runs analysis cycles. It holds no per-cycle state and is
// safe to call concurrently for different AgentJVMs.
type Orchestrator struct {
	deps    Dependencies
	config  Config
	planner *instrument.Planner
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies, config Config, logger zerolog.Logger) *Orchestrator {
	if config.LockLease <= 0 {
		config.LockLease = time.Minute
	}
	if config.InitialSnapshotDuration == 0 {
		config.InitialSnapshotDuration = model.MinSnapshotDuration
	}

	return &Orchestrator{
		deps:    deps,
		config:  config,
		planner: instrument.NewPlanner(logger),
		logger:  logging.Component(logger, "step_orchestrator"),
	}
}

// Step analyzes [processedUntil, refreshThreshold) for jvm.
//
// It returns ErrLockBusy when another cycle holds the lease,
// aggregate.ErrMissingMetadata when the stores have diverged and
// ErrStaleCycle when the lease was lost before commit. In every error case
// no state is written.
func (o *Orchestrator) Step(ctx context.Context, jvm model.AgentJVM, refreshThreshold time.Time) (report *Report, err error) {
	st := newStepState(jvm, o.deps.Classes)
	logger := logging.WithJVM(o.logger, jvm).With().Str("cycle_id", st.CycleID).Logger()

	lock, err := o.deps.Locker.Acquire(ctx, jvm, o.config.LockLease)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			logger.Debug().Msg("Skipping cycle, lock busy")
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	st.Phase = PhaseLockAcquired

	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			logger.Warn().Err(releaseErr).Msg("Failed to release analysis lock")
		}
		if err != nil {
			failed := st.Phase
			st.Phase = PhaseAborted
			logger.Error().Err(err).Str("phase", failed.String()).Msg("Analysis cycle aborted")
		}
	}()

	state, ok := lock.State()
	if ok && state != nil {
		state = state.Clone()
	} else {
		state = model.NewAnalysisState(o.config.InitialSnapshotDuration)
	}

	if o.deps.Reported != nil {
		reported, ok, err := o.deps.Reported.ReportedConfiguration(ctx, jvm)
		if err != nil {
			return nil, fmt.Errorf("failed to load reported instrumentation: %w", err)
		}
		if ok && !reported.Equal(state.Instrumentation) {
			logger.Debug().
				Int("committed", state.Instrumentation.Len()).
				Int("reported", reported.Len()).
				Msg("Agent reports a different instrumentation, adopting it")
			state.Instrumentation = reported.Clone()
		}
	}
	st.Instrumented = instrument.NewInstrumentedFrames(state.Instrumentation)
	st.Classes.WithInstrumented(st.Instrumented)

	st.From = state.ProcessedUntil
	st.To = refreshThreshold
	logger = logger.With().Time("window_from", st.From).Time("window_to", st.To).Logger()

	report = st.report()
	if !st.To.After(st.From) {
		logger.Debug().Msg("Nothing to analyze yet")
		report.Skipped = true
		report.State = state
		return report, nil
	}

	st.Phase = PhaseAggregating
	result, err := o.aggregate(ctx, st)
	if err != nil {
		return nil, err
	}
	report.Summary = st.Summary

	st.Phase = PhasePlanning
	if len(st.ThreadMetadata) > 0 {
		plan, err := o.planner.Plan(ctx, st.Classes, st.ThreadMetadata, state.Instrumentation)
		if err != nil {
			return nil, err
		}
		report.Plan = plan
		st.Selected = plan.Added

		if plan.Changed {
			accepted, err := o.deps.Commander.Submit(ctx, jvm, command.Instrumentation(plan.Config))
			if err != nil {
				return nil, fmt.Errorf("failed to submit instrumentation: %w", err)
			}
			report.InstrumentationAccepted = accepted
			if accepted {
				state.Instrumentation = plan.Config.Clone()
			} else {
				logger.Warn().Msg("Agent rejected instrumentation configuration")
			}
		}

		if len(plan.MissingSignatures) > 0 {
			// Resolved in a later cycle; a failed request is retried then.
			accepted, err := o.deps.Commander.Submit(ctx, jvm, command.ClassInfo(plan.MissingSignatures))
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to request missing signatures")
			}
			report.ClassInfoRequested = err == nil && accepted
		}
	}

	st.Phase = PhaseControllingDuration
	decision := duration.Next(state.SnapshotDuration, duration.Evidence{
		Summary:           st.Summary,
		Threads:           st.ThreadMetadata,
		ThreadOccurrences: st.ThreadOccurrences,
		Instrumented:      st.Instrumented,
	})
	report.Duration = decision

	accepted, err := o.deps.Commander.Submit(ctx, jvm, command.Snapshot(decision.Next))
	if err != nil {
		return nil, fmt.Errorf("failed to submit snapshot: %w", err)
	}
	report.SnapshotAccepted = accepted
	// A rejected snapshot leaves the duration alone so that the retried
	// window is judged from the same starting point.
	if accepted {
		state.SnapshotDuration = decision.Next
		state.ProcessedUntil = st.To
	} else {
		logger.Info().Msg("Agent rejected snapshot, window will be retried")
	}

	st.Phase = PhaseCommitting
	if st.Summary != nil {
		if err := o.deps.Summaries.StoreFlowSummary(ctx, st.Summary); err != nil {
			return nil, fmt.Errorf("failed to store flow summary: %w", err)
		}
	}

	lock.SetState(state)
	if err := lock.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit analysis state: %w", err)
	}
	st.Phase = PhaseIdle
	report.State = state

	event := logger.Info().
		Int("threads", len(st.ThreadMetadata)).
		Int("flows", len(st.FlowMetadata)).
		Int("new_methods", len(st.Selected)).
		Int("snapshot_duration", state.SnapshotDuration).
		Bool("snapshot_accepted", accepted)
	if result != nil {
		event = event.Int("flow_nodes", result.Summary.FlowCount())
	}
	event.Msg("Analysis cycle completed")

	return report, nil
}

// aggregate fetches the window and builds the summary. Missing flow
// evidence is not an error; the thread evidence is still canonicalized so
// that planning can proceed.
func (o *Orchestrator) aggregate(ctx context.Context, st *StepState) (*aggregate.Result, error) {
	threadMeta, threadOccs, err := o.deps.Samples.FetchThreads(ctx, st.AgentJVM, st.From, st.To)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread samples: %w", err)
	}
	flowMeta, flowOccs, err := o.deps.Samples.FetchFlows(ctx, st.AgentJVM, st.From, st.To)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flow samples: %w", err)
	}
	st.FlowMetadata = flowMeta
	st.FlowOccurrences = flowOccs

	result, err := aggregate.Aggregate(aggregate.Input{
		AgentJVM:       st.AgentJVM,
		From:           st.From,
		To:             st.To,
		ThreadMetadata: threadMeta,
		Threads:        threadOccs,
		FlowMetadata:   flowMeta,
		Flows:          flowOccs,
	})
	switch {
	case err == nil:
		st.Summary = result.Summary
		st.ThreadMetadata = result.Threads
		st.ThreadOccurrences = result.ThreadOccurrences
		return result, nil
	case errors.Is(err, aggregate.ErrNoData):
		if len(threadOccs) == 0 {
			return nil, nil
		}
		threads, occs, err := aggregate.CanonicalThreads(threadMeta, threadOccs)
		if err != nil {
			return nil, err
		}
		st.ThreadMetadata = threads
		st.ThreadOccurrences = occs
		return nil, nil
	default:
		return nil, err
	}
}
