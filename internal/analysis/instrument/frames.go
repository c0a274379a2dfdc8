package instrument

import (
	"github.com/jvmscope/jvmscope/internal/model"
)

// InstrumentedFrames decides whether a sampled frame ran instrumented code.
// A frame counts when the agent flagged it or when the configuration in
// force at the start of the cycle covers its method. Hits are memoized for
// the rest of the cycle.
type InstrumentedFrames struct {
	config model.InstrumentationConfiguration
	hits   map[model.MethodRef]struct{}
	misses map[model.MethodRef]struct{}
}

// NewInstrumentedFrames snapshots config for one cycle.
func NewInstrumentedFrames(config model.InstrumentationConfiguration) *InstrumentedFrames {
	return &InstrumentedFrames{
		config: config.Clone(),
		hits:   make(map[model.MethodRef]struct{}),
		misses: make(map[model.MethodRef]struct{}),
	}
}

// Contains reports whether e ran instrumented. A nil receiver only trusts
// the agent's flag.
func (f *InstrumentedFrames) Contains(e model.StackElement) bool {
	if e.Instrumented {
		return true
	}
	if f == nil {
		return false
	}
	ref := e.Method()
	if _, ok := f.hits[ref]; ok {
		return true
	}
	if _, ok := f.misses[ref]; ok {
		return false
	}
	if f.config.ContainsMethod(ref) {
		f.hits[ref] = struct{}{}
		return true
	}
	f.misses[ref] = struct{}{}
	return false
}

// Hits returns how many distinct methods matched the configuration.
func (f *InstrumentedFrames) Hits() int {
	if f == nil {
		return 0
	}
	return len(f.hits)
}

// Any reports whether some frame of t ran instrumented.
func (f *InstrumentedFrames) Any(t model.ThreadMetadata) bool {
	for _, e := range t.Stack {
		if f.Contains(e) {
			return true
		}
	}
	return false
}
