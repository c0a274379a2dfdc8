// Package duration adjusts the snapshot capture duration from the flow
// evidence of each cycle.
package duration

import (
	"github.com/jvmscope/jvmscope/internal/analysis/instrument"
	"github.com/jvmscope/jvmscope/internal/model"
)

const (
	// SparseOccurrences is the per-snapshot occurrence count below which the
	// rarest flow is too sparse to analyze.
	SparseOccurrences = 2
	// DenseOccurrences is the per-snapshot occurrence count above which every
	// flow is observed often enough at a shorter duration.
	DenseOccurrences = 10
)

// Reason explains a decision.
type Reason string

const (
	ReasonNone           Reason = "none"
	ReasonUncovered      Reason = "instrumented_thread_without_flow"
	ReasonSparse         Reason = "sparse_flows"
	ReasonDense          Reason = "dense_flows"
	ReasonNoEvidence     Reason = "no_evidence"
	ReasonAlreadyBounded Reason = "bounded"
)

// Decision is the controller output for one cycle.
type Decision struct {
	Previous int
	Next     int
	Reason   Reason
	// MinThroughput is the rarest flow's per-second throughput, zero when
	// the summary has no flows.
	MinThroughput float64
}

// Evidence is what the controller reads from one cycle.
type Evidence struct {
	Summary           *model.FlowSummary
	Threads           map[string]model.ThreadMetadata
	ThreadOccurrences []model.ThreadOccurrence
	// Instrumented classifies frames. Nil trusts only the agent's flag.
	Instrumented *instrument.InstrumentedFrames
}

// Next computes the next snapshot duration. Without a summary or thread data
// the current duration is returned unchanged. Increase is checked before
// decrease and at most one step is taken.
func Next(current int, ev Evidence) Decision {
	current = model.ClampSnapshotDuration(current)
	d := Decision{Previous: current, Next: current, Reason: ReasonNoEvidence}
	if ev.Summary == nil || len(ev.ThreadOccurrences) == 0 {
		return d
	}

	minimum, hasFlows := ev.Summary.MinThroughput()
	if hasFlows {
		d.MinThroughput = minimum
	}

	switch {
	case uncoveredInstrumentedThread(ev):
		d.Reason = ReasonUncovered
		d.Next = current + 1
	case !hasFlows || minimum*float64(current) < SparseOccurrences:
		d.Reason = ReasonSparse
		d.Next = current + 1
	case minimum*float64(current) > DenseOccurrences:
		d.Reason = ReasonDense
		d.Next = current - 1
	default:
		d.Reason = ReasonNone
		return d
	}

	d.Next = model.ClampSnapshotDuration(d.Next)
	if d.Next == current {
		d.Reason = ReasonAlreadyBounded
	}
	return d
}

// uncoveredInstrumentedThread reports whether a thread sampled while
// running instrumented code was captured in a dump that no flow derives
// from.
func uncoveredInstrumentedThread(ev Evidence) bool {
	var covered map[string]struct{}
	for _, occ := range ev.ThreadOccurrences {
		meta, ok := ev.Threads[occ.MetadataID]
		if !ok || !ev.Instrumented.Any(meta) {
			continue
		}
		if covered == nil {
			covered = ev.Summary.CoveredDumps()
		}
		if _, ok := covered[occ.DumpID]; !ok {
			return true
		}
	}
	return false
}
