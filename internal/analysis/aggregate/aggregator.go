// Package aggregate turns a window of raw thread and flow occurrences into
// deduplicated metadata and a call-tree FlowSummary.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jvmscope/jvmscope/internal/model"
)

var (
	// ErrNoData is returned when the window holds no thread or no flow
	// occurrences. It is not a failure; the cycle simply has nothing to
	// summarize.
	ErrNoData = errors.New("aggregate: no data")

	// ErrMissingMetadata is returned when an occurrence references metadata
	// that was not fetched. The sample and metadata stores have diverged and
	// the cycle must abort.
	ErrMissingMetadata = errors.New("aggregate: occurrence references missing metadata")
)

// maxTreeDepth bounds call-tree nesting.
const maxTreeDepth = 64

// Input is the evidence fetched for one window.
type Input struct {
	AgentJVM       model.AgentJVM
	From, To       time.Time
	ThreadMetadata map[string]model.ThreadMetadata
	Threads        []model.ThreadOccurrence
	FlowMetadata   map[string]model.FlowMetadata
	Flows          []model.FlowOccurrence
}

// Result holds the summary and the canonical thread evidence the planner and
// the duration controller work from.
type Result struct {
	Summary *model.FlowSummary
	// Threads is the canonical thread metadata keyed by content id.
	Threads map[string]model.ThreadMetadata
	// ThreadOccurrences reference Threads.
	ThreadOccurrences []model.ThreadOccurrence
}

// CanonicalThreads joins thread occurrences with their metadata and folds
// records with identical content into one, merging their facts. Occurrences
// are rewritten to reference the canonical ids.
func CanonicalThreads(meta map[string]model.ThreadMetadata, occurrences []model.ThreadOccurrence) (map[string]model.ThreadMetadata, []model.ThreadOccurrence, error) {
	canonical := make(map[string]model.ThreadMetadata, len(meta))
	rename := make(map[string]string, len(meta))
	out := make([]model.ThreadOccurrence, 0, len(occurrences))

	for _, occ := range occurrences {
		id, ok := rename[occ.MetadataID]
		if !ok {
			m, found := meta[occ.MetadataID]
			if !found {
				return nil, nil, fmt.Errorf("%w: thread metadata %q", ErrMissingMetadata, occ.MetadataID)
			}
			m.Stack = NormalizeStack(m.Stack)
			m.ID = ThreadID(m)
			if existing, seen := canonical[m.ID]; seen {
				m = existing.Merge(m)
			}
			canonical[m.ID] = m
			rename[occ.MetadataID] = m.ID
			id = m.ID
		}
		occ.MetadataID = id
		out = append(out, occ)
	}
	return canonical, out, nil
}

type edge struct {
	meta  model.FlowMetadata
	count int
	dumps map[string]struct{}
}

// Aggregate builds the FlowSummary for the window. It fails with ErrNoData
// when either occurrence set is empty and with ErrMissingMetadata when an
// occurrence cannot be joined to its metadata.
func Aggregate(in Input) (*Result, error) {
	if len(in.Threads) == 0 || len(in.Flows) == 0 {
		return nil, ErrNoData
	}

	threads, threadOccs, err := CanonicalThreads(in.ThreadMetadata, in.Threads)
	if err != nil {
		return nil, err
	}

	edges, err := groupFlows(in.FlowMetadata, in.Flows)
	if err != nil {
		return nil, err
	}

	seconds := windowSeconds(in)

	summary := &model.FlowSummary{
		AgentJVM:        in.AgentJVM,
		From:            in.From,
		To:              in.To,
		Roots:           buildTree(edges, seconds),
		ThreadSummaries: summarizeThreads(threadOccs),
	}

	return &Result{
		Summary:           summary,
		Threads:           threads,
		ThreadOccurrences: threadOccs,
	}, nil
}

func groupFlows(meta map[string]model.FlowMetadata, occurrences []model.FlowOccurrence) (map[string]*edge, error) {
	edges := make(map[string]*edge)
	rename := make(map[string]string, len(meta))

	for _, occ := range occurrences {
		id, ok := rename[occ.MetadataID]
		if !ok {
			m, found := meta[occ.MetadataID]
			if !found {
				return nil, fmt.Errorf("%w: flow metadata %q", ErrMissingMetadata, occ.MetadataID)
			}
			m.Caller = normalizeMethod(m.Caller)
			m.Callee = normalizeMethod(m.Callee)
			m.ID = FlowID(m)
			if _, seen := edges[m.ID]; !seen {
				edges[m.ID] = &edge{meta: m, dumps: make(map[string]struct{})}
			}
			rename[occ.MetadataID] = m.ID
			id = m.ID
		}
		e := edges[id]
		e.count += occ.Weight()
		if occ.DumpID != "" {
			e.dumps[occ.DumpID] = struct{}{}
		}
	}
	return edges, nil
}

// windowSeconds returns the duration throughput is measured over. A window
// starting at the epoch belongs to a JVM's first cycle; it is measured from
// the earliest sample instead, so that throughput is not diluted over decades.
func windowSeconds(in Input) float64 {
	from := in.From
	if from.IsZero() || from.Equal(model.Epoch) {
		earliest := in.To
		for _, o := range in.Flows {
			if o.Timestamp.Before(earliest) {
				earliest = o.Timestamp
			}
		}
		for _, o := range in.Threads {
			if o.Timestamp.Before(earliest) {
				earliest = o.Timestamp
			}
		}
		from = earliest
	}
	seconds := in.To.Sub(from).Seconds()
	if seconds < 1 {
		return 1
	}
	return seconds
}

type treeBuilder struct {
	seconds  float64
	outgoing map[model.MethodRef][]*edge
	emitted  map[string]struct{}
}

func buildTree(edges map[string]*edge, seconds float64) []model.RootCall {
	b := &treeBuilder{
		seconds:  seconds,
		outgoing: make(map[model.MethodRef][]*edge),
		emitted:  make(map[string]struct{}),
	}

	entries := make(map[model.MethodRef][]*edge)
	called := make(map[model.MethodRef]bool)
	for _, e := range edges {
		if e.meta.Caller.IsZero() {
			entries[e.meta.Callee] = append(entries[e.meta.Callee], e)
			continue
		}
		b.outgoing[e.meta.Caller] = append(b.outgoing[e.meta.Caller], e)
		called[e.meta.Callee] = true
	}
	for m := range b.outgoing {
		sortEdges(b.outgoing[m])
	}

	var roots []model.RootCall

	// Entry points reported by the agent.
	for _, m := range sortedMethods(entries) {
		sortEdges(entries[m])
		root := model.RootCall{Method: m}
		for _, e := range entries[m] {
			root.CallCount += e.count
			f := b.flow(e)
			f.Children = b.expand(m, map[model.MethodRef]bool{m: true}, 1)
			root.Flows = append(root.Flows, f)
		}
		roots = append(roots, root)
	}

	// Callers never called by anything else in this window.
	for _, m := range sortedMethods(b.outgoing) {
		if called[m] || entries[m] != nil {
			continue
		}
		roots = append(roots, b.rootAt(m))
	}

	// Whatever is left is only reachable through cycles; start from the
	// smallest caller until every edge has been placed.
	for {
		var next *model.MethodRef
		for _, m := range sortedMethods(b.outgoing) {
			if b.hasUnemitted(m) {
				m := m
				next = &m
				break
			}
		}
		if next == nil {
			break
		}
		roots = append(roots, b.rootAt(*next))
	}

	return roots
}

func (b *treeBuilder) rootAt(m model.MethodRef) model.RootCall {
	root := model.RootCall{Method: m}
	root.Flows = b.expand(m, map[model.MethodRef]bool{m: true}, 0)
	for _, f := range root.Flows {
		root.CallCount += f.Count
	}
	return root
}

func (b *treeBuilder) hasUnemitted(m model.MethodRef) bool {
	for _, e := range b.outgoing[m] {
		if _, ok := b.emitted[e.meta.ID]; !ok {
			return true
		}
	}
	return false
}

func (b *treeBuilder) flow(e *edge) model.Flow {
	b.emitted[e.meta.ID] = struct{}{}
	dumps := make([]string, 0, len(e.dumps))
	for d := range e.dumps {
		dumps = append(dumps, d)
	}
	sort.Strings(dumps)
	return model.Flow{
		MetadataID:       e.meta.ID,
		Caller:           e.meta.Caller,
		Callee:           e.meta.Callee,
		Count:            e.count,
		ThroughputPerSec: float64(e.count) / b.seconds,
		DumpIDs:          dumps,
	}
}

// expand returns the flows leaving caller. Methods already on the current
// path are not descended into, which keeps the tree acyclic.
func (b *treeBuilder) expand(caller model.MethodRef, path map[model.MethodRef]bool, depth int) []model.Flow {
	if depth >= maxTreeDepth {
		return nil
	}
	out := b.outgoing[caller]
	if len(out) == 0 {
		return nil
	}
	flows := make([]model.Flow, 0, len(out))
	for _, e := range out {
		f := b.flow(e)
		callee := e.meta.Callee
		if !path[callee] {
			path[callee] = true
			f.Children = b.expand(callee, path, depth+1)
			delete(path, callee)
		}
		flows = append(flows, f)
	}
	return flows
}

func summarizeThreads(occurrences []model.ThreadOccurrence) []model.ThreadSummary {
	byID := make(map[string]*model.ThreadSummary)
	for _, occ := range occurrences {
		s, ok := byID[occ.MetadataID]
		if !ok {
			s = &model.ThreadSummary{MetadataID: occ.MetadataID, CountsByDump: make(map[string]int)}
			byID[occ.MetadataID] = s
		}
		s.CountsByDump[occ.DumpID] += occ.Weight()
		s.Total += occ.Weight()
	}
	out := make([]model.ThreadSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetadataID < out[j].MetadataID })
	return out
}

func sortEdges(edges []*edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i].meta.Callee, edges[j].meta.Callee
		if a != b {
			return methodLess(a, b)
		}
		return edges[i].meta.ID < edges[j].meta.ID
	})
}

func sortedMethods[V any](m map[model.MethodRef]V) []model.MethodRef {
	out := make([]model.MethodRef, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return methodLess(out[i], out[j]) })
	return out
}

func methodLess(a, b model.MethodRef) bool {
	if a.ClassName != b.ClassName {
		return a.ClassName < b.ClassName
	}
	return a.MethodName < b.MethodName
}
