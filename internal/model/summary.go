package model

import (
	"math"
	"time"
)

// FlowSummary is the call tree built from one cycle's window. It is created
// once per cycle and never mutated after it is handed to storage.
type FlowSummary struct {
	AgentJVM        AgentJVM        `json:"agent_jvm"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Roots           []RootCall      `json:"roots"`
	ThreadSummaries []ThreadSummary `json:"thread_summaries"`
}

// RootCall is a method observed calling others without being called itself
// within the window.
type RootCall struct {
	Method    MethodRef `json:"method"`
	CallCount int       `json:"call_count"`
	Flows     []Flow    `json:"flows"`
}

// Flow is one caller to callee edge with its nested callees.
type Flow struct {
	MetadataID       string    `json:"metadata_id"`
	Caller           MethodRef `json:"caller"`
	Callee           MethodRef `json:"callee"`
	Count            int       `json:"count"`
	ThroughputPerSec float64   `json:"throughput_per_sec"`
	DumpIDs          []string  `json:"dump_ids"`
	Children         []Flow    `json:"children,omitempty"`
}

// ThreadSummary aggregates the occurrences of one thread stack.
type ThreadSummary struct {
	MetadataID   string         `json:"metadata_id"`
	CountsByDump map[string]int `json:"counts_by_dump"`
	Total        int            `json:"total"`
}

// Walk visits every flow in depth-first order. Returning false stops the walk.
func (s *FlowSummary) Walk(fn func(f *Flow) bool) {
	var visit func(flows []Flow) bool
	visit = func(flows []Flow) bool {
		for i := range flows {
			if !fn(&flows[i]) {
				return false
			}
			if !visit(flows[i].Children) {
				return false
			}
		}
		return true
	}
	for i := range s.Roots {
		if !visit(s.Roots[i].Flows) {
			return
		}
	}
}

// FlowCount returns the number of flow nodes in the tree.
func (s *FlowSummary) FlowCount() int {
	n := 0
	s.Walk(func(*Flow) bool {
		n++
		return true
	})
	return n
}

// MinThroughput returns the smallest per-second throughput of any flow. The
// boolean is false when the summary holds no flows.
func (s *FlowSummary) MinThroughput() (float64, bool) {
	minimum := math.Inf(1)
	found := false
	s.Walk(func(f *Flow) bool {
		found = true
		if f.ThroughputPerSec < minimum {
			minimum = f.ThroughputPerSec
		}
		return true
	})
	if !found {
		return 0, false
	}
	return minimum, true
}

// Covers reports whether any flow's evidence came from the named dump.
func (s *FlowSummary) Covers(dumpID string) bool {
	covered := false
	s.Walk(func(f *Flow) bool {
		for _, id := range f.DumpIDs {
			if id == dumpID {
				covered = true
				return false
			}
		}
		return true
	})
	return covered
}

// CoveredDumps returns the set of dump ids any flow derives from. Use it
// instead of Covers when testing many dumps.
func (s *FlowSummary) CoveredDumps() map[string]struct{} {
	dumps := make(map[string]struct{})
	s.Walk(func(f *Flow) bool {
		for _, id := range f.DumpIDs {
			dumps[id] = struct{}{}
		}
		return true
	})
	return dumps
}
