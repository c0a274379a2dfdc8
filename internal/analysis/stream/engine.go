// Package stream runs the analysis core over samples that arrive on a
// message bus. Each AgentJVM gets its own set of time windows; the engine
// serves those windows to the step orchestrator as a sample source.
package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/analysis/window"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Config sizes the per-JVM windows.
type Config struct {
	LoadHorizon   time.Duration
	ConfigHorizon time.Duration
	// SampleHorizon retains thread and flow samples until a cycle has
	// consumed them. It defaults to ConfigHorizon.
	SampleHorizon time.Duration
	LookBack      int
	LookAhead     int
	SpikeFactor   float64
}

// DefaultConfig returns the standard horizons: 60s of load, 120s of
// instrumentation history.
func DefaultConfig() Config {
	return Config{
		LoadHorizon:   60 * time.Second,
		ConfigHorizon: 120 * time.Second,
		SampleHorizon: 120 * time.Second,
		LookBack:      3,
		LookAhead:     3,
		SpikeFactor:   1.5,
	}
}

type jvmWindows struct {
	mu       sync.Mutex
	load     *window.SlidingWindow[model.LoadSample]
	configs  *window.TimeWindow[model.InstrumentationConfiguration]
	dumps    *window.TimeWindow[[]string]
	threads  *window.TimeWindow[[]model.ThreadOccurrence]
	flows    *window.TimeWindow[[]model.FlowOccurrence]
	interner *aggregate.Interner
	lastSeen time.Time
}

// Engine holds the windows of every AgentJVM seen on the bus.
type Engine struct {
	config Config
	opts   []window.Option
	logger zerolog.Logger

	mu   sync.RWMutex
	jvms map[model.AgentJVM]*jvmWindows
}

// NewEngine creates an engine. Window options, such as a test clock, apply
// to every window the engine creates.
func NewEngine(config Config, logger zerolog.Logger, opts ...window.Option) *Engine {
	if config.SampleHorizon <= 0 {
		config.SampleHorizon = config.ConfigHorizon
	}
	return &Engine{
		config: config,
		opts:   opts,
		logger: logger.With().Str("component", "stream_engine").Logger(),
		jvms:   make(map[model.AgentJVM]*jvmWindows),
	}
}

func (e *Engine) windows(jvm model.AgentJVM, create bool) *jvmWindows {
	e.mu.RLock()
	w, ok := e.jvms[jvm]
	e.mu.RUnlock()
	if ok || !create {
		return w
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok = e.jvms[jvm]; ok {
		return w
	}
	w = &jvmWindows{
		load:     window.NewSlidingWindow[model.LoadSample](e.config.LoadHorizon, e.opts...),
		configs:  window.NewTimeWindow[model.InstrumentationConfiguration](e.config.ConfigHorizon, e.opts...),
		dumps:    window.NewTimeWindow[[]string](e.config.SampleHorizon, e.opts...),
		threads:  window.NewTimeWindow[[]model.ThreadOccurrence](e.config.SampleHorizon, e.opts...),
		flows:    window.NewTimeWindow[[]model.FlowOccurrence](e.config.SampleHorizon, e.opts...),
		interner: aggregate.NewInterner(),
	}
	e.jvms[jvm] = w
	e.logger.Debug().Str("jvm", jvm.String()).Msg("Tracking new JVM")
	return w
}

// Ingest files an envelope into the windows of its AgentJVM.
func (e *Engine) Ingest(env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.Kind == KindClassMetadata {
		// Kept by the class store, not in windows.
		return nil
	}

	w := e.windows(env.AgentJVM, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := env.Timestamp
	if ts.After(w.lastSeen) {
		w.lastSeen = ts
	}
	switch env.Kind {
	case KindLoad:
		sample := *env.Load
		sample.Timestamp = ts
		w.load.Put(ts, sample)
	case KindInstrumentation:
		w.configs.Put(ts, env.Instrumentation.Clone())
	case KindThreadDump:
		occs := make([]model.ThreadOccurrence, 0, len(env.ThreadDump.Threads))
		for _, raw := range env.ThreadDump.Raw(ts) {
			occs = append(occs, w.interner.InternThread(raw))
		}
		evicted := w.threads.Evicted()
		w.threads.Update(ts, func(old []model.ThreadOccurrence, _ bool) []model.ThreadOccurrence {
			return append(old, occs...)
		})
		w.dumps.Update(ts, func(old []string, _ bool) []string {
			return append(old, env.ThreadDump.DumpID)
		})
		if w.threads.Evicted() != evicted {
			w.interner.Retain(referencedThreads(w.threads), nil)
		}
	case KindFlows:
		occs := make([]model.FlowOccurrence, 0, len(env.Flows.Flows))
		for _, raw := range env.Flows.Raw(ts) {
			occs = append(occs, w.interner.InternFlow(raw))
		}
		evicted := w.flows.Evicted()
		w.flows.Update(ts, func(old []model.FlowOccurrence, _ bool) []model.FlowOccurrence {
			return append(old, occs...)
		})
		if w.flows.Evicted() != evicted {
			w.interner.Retain(nil, referencedFlows(w.flows))
		}
	default:
		return fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return nil
}

// JVMs returns every AgentJVM with windows, sorted by identity.
func (e *Engine) JVMs() []model.AgentJVM {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.AgentJVM, 0, len(e.jvms))
	for jvm := range e.jvms {
		out = append(out, jvm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ReportedConfiguration returns the configuration the agent reported last,
// as long as the report is within the config horizon.
func (e *Engine) ReportedConfiguration(_ context.Context, jvm model.AgentJVM) (model.InstrumentationConfiguration, bool, error) {
	w := e.windows(jvm, false)
	if w == nil {
		return model.InstrumentationConfiguration{}, false, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.configs.Newest()
	if !ok {
		return model.InstrumentationConfiguration{}, false, nil
	}
	return entry.Value.Clone(), true, nil
}

// FetchThreads serves the retained thread samples in [from, to).
func (e *Engine) FetchThreads(_ context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.ThreadMetadata, []model.ThreadOccurrence, error) {
	w := e.windows(jvm, false)
	if w == nil {
		return nil, nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.threads.Values(from, to)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[string]model.ThreadMetadata)
	var occs []model.ThreadOccurrence
	for _, entry := range entries {
		for _, occ := range entry.Value {
			occs = append(occs, occ)
			if m, ok := w.interner.Thread(occ.MetadataID); ok {
				meta[occ.MetadataID] = m
			}
		}
	}
	return meta, occs, nil
}

// FetchFlows serves the retained flow samples in [from, to).
func (e *Engine) FetchFlows(_ context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.FlowMetadata, []model.FlowOccurrence, error) {
	w := e.windows(jvm, false)
	if w == nil {
		return nil, nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.flows.Values(from, to)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[string]model.FlowMetadata)
	var occs []model.FlowOccurrence
	for _, entry := range entries {
		for _, occ := range entry.Value {
			occs = append(occs, occ)
			if m, ok := w.interner.Flow(occ.MetadataID); ok {
				meta[occ.MetadataID] = m
			}
		}
	}
	return meta, occs, nil
}

// Evict drops the windows of every JVM whose newest sample is older than
// before and returns how many were dropped. A JVM that reports again later
// starts over with empty windows.
func (e *Engine) Evict(before time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for jvm, w := range e.jvms {
		w.mu.Lock()
		idle := w.lastSeen.Before(before)
		w.mu.Unlock()
		if idle {
			delete(e.jvms, jvm)
			evicted++
		}
	}
	if evicted > 0 {
		e.logger.Info().Int("evicted", evicted).Time("before", before).Msg("Dropped idle JVM windows")
	}
	return evicted
}

func referencedThreads(tw *window.TimeWindow[[]model.ThreadOccurrence]) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, entry := range tw.Recent() {
		for _, occ := range entry.Value {
			ids[occ.MetadataID] = struct{}{}
		}
	}
	return ids
}

func referencedFlows(fw *window.TimeWindow[[]model.FlowOccurrence]) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, entry := range fw.Recent() {
		for _, occ := range entry.Value {
			ids[occ.MetadataID] = struct{}{}
		}
	}
	return ids
}
