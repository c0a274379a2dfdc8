package aggregate

import (
	"maps"
	"time"

	"github.com/jvmscope/jvmscope/internal/model"
)

// RawThreadSample is one thread of an uploaded thread dump, before
// deduplication.
type RawThreadSample struct {
	Timestamp  time.Time
	DumpID     string
	ThreadName string
	State      string
	Stack      []model.StackElement
}

// RawFlowSample is one observed caller to callee edge, before
// deduplication.
type RawFlowSample struct {
	Timestamp time.Time
	DumpID    string
	Caller    model.MethodRef
	Callee    model.MethodRef
	Count     int
}

// Interner deduplicates raw samples into content-addressed metadata.
// Structurally identical samples always map to the same metadata id, and
// repeated content merges its facts into the existing record.
//
// An Interner is not safe for concurrent use; callers serialize access.
type Interner struct {
	threads map[string]model.ThreadMetadata
	flows   map[string]model.FlowMetadata
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{
		threads: make(map[string]model.ThreadMetadata),
		flows:   make(map[string]model.FlowMetadata),
	}
}

// Seed preloads known metadata so that interned samples merge into it.
func (in *Interner) Seed(threads map[string]model.ThreadMetadata, flows map[string]model.FlowMetadata) {
	for _, t := range threads {
		in.addThread(t)
	}
	for _, f := range flows {
		in.addFlow(f)
	}
}

// InternThread normalizes a raw thread sample and returns its occurrence.
func (in *Interner) InternThread(raw RawThreadSample) model.ThreadOccurrence {
	meta := in.addThread(model.ThreadMetadata{
		ThreadName: raw.ThreadName,
		State:      raw.State,
		Stack:      raw.Stack,
	})
	return model.ThreadOccurrence{
		Timestamp:  raw.Timestamp,
		MetadataID: meta.ID,
		DumpID:     raw.DumpID,
		Count:      1,
	}
}

// InternFlow normalizes a raw flow sample and returns its occurrence.
func (in *Interner) InternFlow(raw RawFlowSample) model.FlowOccurrence {
	meta := in.addFlow(model.FlowMetadata{Caller: raw.Caller, Callee: raw.Callee})
	count := raw.Count
	if count <= 0 {
		count = 1
	}
	return model.FlowOccurrence{
		Timestamp:  raw.Timestamp,
		MetadataID: meta.ID,
		DumpID:     raw.DumpID,
		Count:      count,
	}
}

func (in *Interner) addThread(meta model.ThreadMetadata) model.ThreadMetadata {
	meta.Stack = NormalizeStack(meta.Stack)
	meta.ID = ThreadID(meta)
	if existing, ok := in.threads[meta.ID]; ok {
		meta = existing.Merge(meta)
	}
	in.threads[meta.ID] = meta
	return meta
}

func (in *Interner) addFlow(meta model.FlowMetadata) model.FlowMetadata {
	meta.Caller = normalizeMethod(meta.Caller)
	meta.Callee = normalizeMethod(meta.Callee)
	meta.ID = FlowID(meta)
	in.flows[meta.ID] = meta
	return meta
}

// Threads returns a copy of the interned thread metadata keyed by id.
func (in *Interner) Threads() map[string]model.ThreadMetadata {
	return maps.Clone(in.threads)
}

// Flows returns a copy of the interned flow metadata keyed by id.
func (in *Interner) Flows() map[string]model.FlowMetadata {
	return maps.Clone(in.flows)
}

// Thread looks up one interned thread.
func (in *Interner) Thread(id string) (model.ThreadMetadata, bool) {
	meta, ok := in.threads[id]
	return meta, ok
}

// Flow looks up one interned flow.
func (in *Interner) Flow(id string) (model.FlowMetadata, bool) {
	meta, ok := in.flows[id]
	return meta, ok
}

// Len returns the number of interned threads and flows.
func (in *Interner) Len() (threads, flows int) {
	return len(in.threads), len(in.flows)
}

// Retain drops every record whose id is not in keep and returns how many
// were dropped. A nil set leaves that kind untouched.
func (in *Interner) Retain(threads, flows map[string]struct{}) int {
	dropped := 0
	if threads != nil {
		for id := range in.threads {
			if _, ok := threads[id]; !ok {
				delete(in.threads, id)
				dropped++
			}
		}
	}
	if flows != nil {
		for id := range in.flows {
			if _, ok := flows[id]; !ok {
				delete(in.flows, id)
				dropped++
			}
		}
	}
	return dropped
}
