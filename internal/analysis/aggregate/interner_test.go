package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/model"
)

func TestInterner_ThreadsCollapseByContent(t *testing.T) {
	in := NewInterner()
	now := time.Unix(1700000000, 0)

	first := in.InternThread(RawThreadSample{
		Timestamp:  now,
		DumpID:     "d1",
		ThreadName: "http-nio-1",
		State:      "RUNNABLE",
		Stack: []model.StackElement{
			{ClassName: "com.acme.Web$$Lambda$12/0x01", MethodName: "apply", Instrumentable: true},
		},
	})
	second := in.InternThread(RawThreadSample{
		Timestamp:  now.Add(time.Second),
		DumpID:     "d2",
		ThreadName: "http-nio-2",
		State:      "RUNNABLE",
		Stack: []model.StackElement{
			{ClassName: "com.acme.Web$$Lambda$99/0x02", MethodName: "apply", Instrumented: true},
		},
	})

	assert.Equal(t, first.MetadataID, second.MetadataID)
	assert.Equal(t, 1, first.Count)
	assert.Equal(t, "d2", second.DumpID)

	threads := in.Threads()
	require.Len(t, threads, 1)

	meta := threads[first.MetadataID]
	assert.Equal(t, "com.acme.Web$$Lambda", meta.Stack[0].ClassName)
	assert.True(t, meta.Stack[0].Instrumentable)
	assert.True(t, meta.Stack[0].Instrumented)
	assert.Equal(t, "http-nio-1", meta.ThreadName)
}

func TestInterner_FlowCountDefaults(t *testing.T) {
	in := NewInterner()
	a := model.MethodRef{ClassName: "A", MethodName: "a"}
	b := model.MethodRef{ClassName: "B", MethodName: "b"}

	occ := in.InternFlow(RawFlowSample{Caller: a, Callee: b})
	assert.Equal(t, 1, occ.Count)

	occ = in.InternFlow(RawFlowSample{Caller: a, Callee: b, Count: 7})
	assert.Equal(t, 7, occ.Count)
	assert.Len(t, in.Flows(), 1)
}

func TestInterner_SeedMergesExisting(t *testing.T) {
	stack := []model.StackElement{{ClassName: "A", MethodName: "a"}}
	seed := model.ThreadMetadata{State: "WAITING", Stack: stack}
	seed.ID = ThreadID(seed)
	seed.Stack[0].Instrumented = true

	in := NewInterner()
	in.Seed(map[string]model.ThreadMetadata{seed.ID: seed}, nil)

	occ := in.InternThread(RawThreadSample{State: "WAITING", Stack: []model.StackElement{{ClassName: "A", MethodName: "a"}}})
	assert.Equal(t, seed.ID, occ.MetadataID)
	assert.True(t, in.Threads()[seed.ID].Stack[0].Instrumented)
}

func TestInterner_RetainDropsUnreferenced(t *testing.T) {
	in := NewInterner()
	keep := in.InternThread(RawThreadSample{State: "RUNNABLE", Stack: []model.StackElement{{ClassName: "A", MethodName: "a"}}})
	in.InternThread(RawThreadSample{State: "WAITING", Stack: []model.StackElement{{ClassName: "B", MethodName: "b"}}})
	flow := in.InternFlow(RawFlowSample{Caller: model.MethodRef{ClassName: "A", MethodName: "a"}, Callee: model.MethodRef{ClassName: "B", MethodName: "b"}})

	dropped := in.Retain(map[string]struct{}{keep.MetadataID: {}}, nil)
	assert.Equal(t, 1, dropped)

	threads, flows := in.Len()
	assert.Equal(t, 1, threads)
	assert.Equal(t, 1, flows, "nil set keeps flows")
	_, ok := in.Thread(keep.MetadataID)
	assert.True(t, ok)
	_, ok = in.Flow(flow.MetadataID)
	assert.True(t, ok)
}

func TestInterner_ThreadsReturnsCopy(t *testing.T) {
	in := NewInterner()
	occ := in.InternThread(RawThreadSample{State: "RUNNABLE", Stack: []model.StackElement{{ClassName: "A", MethodName: "a"}}})

	delete(in.Threads(), occ.MetadataID)

	_, ok := in.Thread(occ.MetadataID)
	assert.True(t, ok)
}
