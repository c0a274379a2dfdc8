// Package export renders flow summaries as pprof profiles so that the call
// tree can be browsed with flame graph tools.
package export

import (
	"fmt"
	"io"
	"math"

	"github.com/google/pprof/profile"

	"github.com/jvmscope/jvmscope/internal/model"
)

// Sample value indexes.
const (
	valueCalls = iota
	valueThroughput
)

// Profile converts summary into a pprof profile. Every flow node becomes a
// sample whose stack runs from the root method to the callee; the values
// are the calls not attributed to a child and the node's throughput in
// calls per minute.
func Profile(summary *model.FlowSummary) (*profile.Profile, error) {
	if summary == nil {
		return nil, fmt.Errorf("nil flow summary")
	}

	b := &builder{
		p: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "calls", Unit: "count"},
				{Type: "throughput", Unit: "calls/minute"},
			},
			PeriodType:    &profile.ValueType{Type: "window", Unit: "nanoseconds"},
			Period:        summary.To.Sub(summary.From).Nanoseconds(),
			TimeNanos:     summary.From.UnixNano(),
			DurationNanos: summary.To.Sub(summary.From).Nanoseconds(),
			Comments:      []string{"agent_jvm=" + summary.AgentJVM.String()},
		},
		functions: make(map[model.MethodRef]*profile.Function),
		locations: make(map[model.MethodRef]*profile.Location),
	}

	for _, root := range summary.Roots {
		stack := []*profile.Location{b.location(root.Method)}
		for i := range root.Flows {
			b.flow(&root.Flows[i], stack)
		}
	}

	if err := b.p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return b.p, nil
}

// Write encodes summary as a gzipped pprof protobuf.
func Write(w io.Writer, summary *model.FlowSummary) error {
	p, err := Profile(summary)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

type builder struct {
	p         *profile.Profile
	functions map[model.MethodRef]*profile.Function
	locations map[model.MethodRef]*profile.Location
}

// flow adds a sample for f and recurses into its children. parents holds
// the caller chain, outermost first.
func (b *builder) flow(f *model.Flow, parents []*profile.Location) {
	chain := make([]*profile.Location, len(parents), len(parents)+1)
	copy(chain, parents)
	chain = append(chain, b.location(f.Callee))

	self := f.Count
	for _, c := range f.Children {
		self -= c.Count
	}
	if self > 0 {
		// pprof lists the leaf first.
		stack := make([]*profile.Location, len(chain))
		for i, loc := range chain {
			stack[len(chain)-1-i] = loc
		}
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{int64(self), int64(math.Round(f.ThroughputPerSec * 60))},
			Label:    map[string][]string{"flow": {f.MetadataID}},
			NumLabel: map[string][]int64{"dumps": {int64(len(f.DumpIDs))}},
		})
	}

	for i := range f.Children {
		b.flow(&f.Children[i], chain)
	}
}

func (b *builder) location(m model.MethodRef) *profile.Location {
	if loc, ok := b.locations[m]; ok {
		return loc
	}
	fn, ok := b.functions[m]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(b.p.Function) + 1),
			Name:       m.String(),
			SystemName: m.String(),
			Filename:   m.ClassName,
		}
		b.functions[m] = fn
		b.p.Function = append(b.p.Function, fn)
	}
	loc := &profile.Location{
		ID:   uint64(len(b.p.Location) + 1),
		Line: []profile.Line{{Function: fn}},
	}
	b.locations[m] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}
