package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/model"
)

type jvmSamples struct {
	threadMeta map[string]model.ThreadMetadata
	threads    []model.ThreadOccurrence
	flowMeta   map[string]model.FlowMetadata
	flows      []model.FlowOccurrence
}

// MemorySamples is an in-memory sample source.
type MemorySamples struct {
	mu   sync.RWMutex
	data map[model.AgentJVM]*jvmSamples
}

// NewMemorySamples creates an empty sample source.
func NewMemorySamples() *MemorySamples {
	return &MemorySamples{data: make(map[model.AgentJVM]*jvmSamples)}
}

func (m *MemorySamples) get(jvm model.AgentJVM) *jvmSamples {
	s, ok := m.data[jvm]
	if !ok {
		s = &jvmSamples{
			threadMeta: make(map[string]model.ThreadMetadata),
			flowMeta:   make(map[string]model.FlowMetadata),
		}
		m.data[jvm] = s
	}
	return s
}

// AddThread stores metadata and occurrences referencing it.
func (m *MemorySamples) AddThread(jvm model.AgentJVM, meta model.ThreadMetadata, occs ...model.ThreadOccurrence) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(jvm)
	s.threadMeta[meta.ID] = meta
	for _, o := range occs {
		o.MetadataID = meta.ID
		s.threads = append(s.threads, o)
	}
}

// AddFlow stores metadata and occurrences referencing it.
func (m *MemorySamples) AddFlow(jvm model.AgentJVM, meta model.FlowMetadata, occs ...model.FlowOccurrence) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(jvm)
	s.flowMeta[meta.ID] = meta
	for _, o := range occs {
		o.MetadataID = meta.ID
		s.flows = append(s.flows, o)
	}
}

// DropThreadMetadata deletes a metadata record while keeping occurrences
// that reference it.
func (m *MemorySamples) DropThreadMetadata(jvm model.AgentJVM, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.get(jvm).threadMeta, id)
}

// FetchThreads implements step.SampleSource.
func (m *MemorySamples) FetchThreads(_ context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.ThreadMetadata, []model.ThreadOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.data[jvm]
	if !ok {
		return nil, nil, nil
	}
	meta := make(map[string]model.ThreadMetadata)
	var occs []model.ThreadOccurrence
	for _, o := range s.threads {
		if o.Timestamp.Before(from) || !o.Timestamp.Before(to) {
			continue
		}
		occs = append(occs, o)
		if md, ok := s.threadMeta[o.MetadataID]; ok {
			meta[o.MetadataID] = md
		}
	}
	return meta, occs, nil
}

// FetchFlows implements step.SampleSource.
func (m *MemorySamples) FetchFlows(_ context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.FlowMetadata, []model.FlowOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.data[jvm]
	if !ok {
		return nil, nil, nil
	}
	meta := make(map[string]model.FlowMetadata)
	var occs []model.FlowOccurrence
	for _, o := range s.flows {
		if o.Timestamp.Before(from) || !o.Timestamp.Before(to) {
			continue
		}
		occs = append(occs, o)
		if md, ok := s.flowMeta[o.MetadataID]; ok {
			meta[o.MetadataID] = md
		}
	}
	return meta, occs, nil
}

// MemoryClasses is an in-memory class metadata source.
type MemoryClasses struct {
	mu        sync.RWMutex
	classes   map[string]*model.ClassMetadata
	blacklist map[string]struct{}
	fetches   map[string]int
}

// NewMemoryClasses creates an empty class source shared by all JVMs.
func NewMemoryClasses() *MemoryClasses {
	return &MemoryClasses{
		classes:   make(map[string]*model.ClassMetadata),
		blacklist: make(map[string]struct{}),
		fetches:   make(map[string]int),
	}
}

// SetClass registers class metadata.
func (m *MemoryClasses) SetClass(meta model.ClassMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[meta.ClassName] = &meta
}

// Blacklist adds classes to the blacklist.
func (m *MemoryClasses) Blacklist(classNames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range classNames {
		m.blacklist[c] = struct{}{}
	}
}

// Fetches returns how often className was looked up.
func (m *MemoryClasses) Fetches(className string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[className]
}

// FetchClassMetadata implements step.ClassMetadataSource.
func (m *MemoryClasses) FetchClassMetadata(_ context.Context, _ model.AgentJVM, className string) (*model.ClassMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[className]++
	meta, ok := m.classes[className]
	if !ok {
		return nil, nil
	}
	out := *meta
	return &out, nil
}

// FetchBlacklistedClasses implements step.ClassMetadataSource.
func (m *MemoryClasses) FetchBlacklistedClasses(context.Context, model.AgentJVM) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(m.blacklist))
	for c := range m.blacklist {
		out[c] = struct{}{}
	}
	return out, nil
}

type lease struct {
	owner   string
	expires time.Time
	version int64
	state   *model.AnalysisState
}

// MemoryLocker is an in-memory lease store with optimistic versioning.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[model.AgentJVM]*lease
	now    func() time.Time
}

// NewMemoryLocker creates an empty lease store.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[model.AgentJVM]*lease),
		now:    time.Now,
	}
}

// Acquire implements step.Locker.
func (m *MemoryLocker) Acquire(_ context.Context, jvm model.AgentJVM, d time.Duration) (step.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[jvm]
	if !ok {
		l = &lease{}
		m.leases[jvm] = l
	}
	now := m.now()
	if l.owner != "" && now.Before(l.expires) {
		return nil, step.ErrLockBusy
	}
	l.owner = uuid.NewString()
	l.expires = now.Add(d)

	return &memoryLock{locker: m, jvm: jvm, owner: l.owner, version: l.version, state: l.state.Clone()}, nil
}

// Steal hands the lease of jvm to another owner and bumps its version, as
// a newer cycle would after the current lease expired.
func (m *MemoryLocker) Steal(jvm model.AgentJVM) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[jvm]; ok {
		l.owner = uuid.NewString()
		l.version++
	}
}

// State returns the committed state of jvm.
func (m *MemoryLocker) State(jvm model.AgentJVM) (*model.AnalysisState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[jvm]
	if !ok || l.state == nil {
		return nil, false
	}
	return l.state.Clone(), true
}

// Held reports whether jvm's lease is currently held.
func (m *MemoryLocker) Held(jvm model.AgentJVM) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[jvm]
	return ok && l.owner != ""
}

type memoryLock struct {
	locker  *MemoryLocker
	jvm     model.AgentJVM
	owner   string
	version int64
	state   *model.AnalysisState
}

func (l *memoryLock) State() (*model.AnalysisState, bool) {
	return l.state, l.state != nil
}

func (l *memoryLock) SetState(state *model.AnalysisState) {
	l.state = state
}

func (l *memoryLock) Commit(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	stored := l.locker.leases[l.jvm]
	if stored.owner != l.owner || stored.version != l.version {
		return step.ErrStaleCycle
	}
	stored.state = l.state.Clone()
	stored.version++
	l.version = stored.version
	return nil
}

func (l *memoryLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if stored := l.locker.leases[l.jvm]; stored.owner == l.owner {
		stored.owner = ""
	}
	return nil
}

// Submitted is one command received by MemoryCommander.
type Submitted struct {
	AgentJVM model.AgentJVM
	Command  command.Command
	Accepted bool
}

// MemoryCommander records commands and accepts or rejects them per feature.
type MemoryCommander struct {
	mu       sync.Mutex
	rejected map[command.Feature]bool
	log      []Submitted
}

// NewMemoryCommander creates a commander that accepts everything.
func NewMemoryCommander() *MemoryCommander {
	return &MemoryCommander{rejected: make(map[command.Feature]bool)}
}

// Reject makes the commander refuse commands of feature f until Accept.
func (m *MemoryCommander) Reject(f command.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[f] = true
}

// Accept undoes Reject.
func (m *MemoryCommander) Accept(f command.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rejected, f)
}

// Submit implements step.Commander.
func (m *MemoryCommander) Submit(_ context.Context, jvm model.AgentJVM, cmd command.Command) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	accepted := !m.rejected[cmd.Feature]
	m.log = append(m.log, Submitted{AgentJVM: jvm, Command: cmd, Accepted: accepted})
	return accepted, nil
}

// Submitted returns the commands of feature f in submission order.
func (m *MemoryCommander) Submitted(f command.Feature) []Submitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Submitted
	for _, s := range m.log {
		if s.Command.Feature == f {
			out = append(out, s)
		}
	}
	return out
}

// MemorySummaries collects stored flow summaries.
type MemorySummaries struct {
	mu        sync.Mutex
	summaries []*model.FlowSummary
}

// StoreFlowSummary implements step.SummarySink.
func (m *MemorySummaries) StoreFlowSummary(_ context.Context, s *model.FlowSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

// All returns the stored summaries.
func (m *MemorySummaries) All() []*model.FlowSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.FlowSummary(nil), m.summaries...)
}
