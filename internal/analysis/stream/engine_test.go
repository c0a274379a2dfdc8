package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/analysis/window"
	"github.com/jvmscope/jvmscope/internal/model"
)

var (
	t0  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	jvm = model.AgentJVM{AccountID: "acct", AgentID: "agent", JVMID: "jvm"}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestEngine(c *clock) *Engine {
	return NewEngine(DefaultConfig(), zerolog.Nop(), window.WithClock(c.Now))
}

func dumpEnvelope(ts time.Time, dumpID string, threads ...ThreadSample) Envelope {
	return Envelope{
		Kind:       KindThreadDump,
		AgentJVM:   jvm,
		Timestamp:  ts,
		ThreadDump: &ThreadDump{DumpID: dumpID, Threads: threads},
	}
}

func loadEnvelope(ts time.Time, cpu float64) Envelope {
	return Envelope{Kind: KindLoad, AgentJVM: jvm, Timestamp: ts, Load: &model.LoadSample{CPULoad: cpu}}
}

func worker(name string) ThreadSample {
	return ThreadSample{
		Name:  name,
		State: "RUNNABLE",
		Stack: []model.StackElement{{ClassName: "com.acme.Job", MethodName: "run", Instrumentable: true}},
	}
}

func TestEngine_ServesWindowedSamples(t *testing.T) {
	c := &clock{now: t0}
	e := newTestEngine(c)

	require.NoError(t, e.Ingest(dumpEnvelope(t0, "d1", worker("w-1"), worker("w-2"))))
	require.NoError(t, e.Ingest(dumpEnvelope(t0.Add(time.Second), "d2", worker("w-3"))))
	require.NoError(t, e.Ingest(Envelope{
		Kind:      KindFlows,
		AgentJVM:  jvm,
		Timestamp: t0,
		Flows: &FlowBatch{DumpID: "d1", Flows: []FlowSample{{
			Caller: model.MethodRef{ClassName: "com.acme.Job", MethodName: "run"},
			Callee: model.MethodRef{ClassName: "com.acme.Db", MethodName: "query"},
			Count:  4,
		}}},
	}))

	meta, occs, err := e.FetchThreads(context.Background(), jvm, t0, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Len(t, occs, 3)
	assert.Len(t, meta, 1, "identical stacks share metadata")

	flowMeta, flowOccs, err := e.FetchFlows(context.Background(), jvm, t0, t0.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, flowOccs, 1)
	assert.Equal(t, 4, flowOccs[0].Count)

	res, err := aggregate.Aggregate(aggregate.Input{
		AgentJVM: jvm, From: t0, To: t0.Add(2 * time.Second),
		ThreadMetadata: meta, Threads: occs, FlowMetadata: flowMeta, Flows: flowOccs,
	})
	require.NoError(t, err)
	assert.True(t, res.Summary.Covers("d1"))
	assert.Equal(t, map[string]int{"d1": 2, "d2": 1}, res.Summary.ThreadSummaries[0].CountsByDump)
}

func TestEngine_UnknownJVM(t *testing.T) {
	e := newTestEngine(&clock{now: t0})
	meta, occs, err := e.FetchThreads(context.Background(), jvm, t0, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Empty(t, occs)
	assert.Nil(t, e.Correlate(jvm))
}

func TestEngine_HorizonsPerKind(t *testing.T) {
	c := &clock{now: t0}
	e := newTestEngine(c)

	cfg := model.NewInstrumentationConfiguration(model.MethodID{ClassName: "A", MethodName: "a", Signature: "()V"})
	require.NoError(t, e.Ingest(loadEnvelope(t0, 0.3)))
	require.NoError(t, e.Ingest(Envelope{Kind: KindInstrumentation, AgentJVM: jvm, Timestamp: t0, Instrumentation: &cfg}))

	c.now = t0.Add(90 * time.Second)
	require.NoError(t, e.Ingest(loadEnvelope(c.now, 0.4)))
	require.NoError(t, e.Ingest(Envelope{Kind: KindInstrumentation, AgentJVM: jvm, Timestamp: c.now, Instrumentation: &cfg}))

	w := e.windows(jvm, false)
	assert.Equal(t, 1, w.load.Len(), "load keeps 60s")
	assert.Equal(t, 2, w.configs.Len(), "configs keep 120s")

	got, ok, err := e.ReportedConfiguration(context.Background(), jvm)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(cfg))
}

func TestEngine_ReportedConfigurationExpires(t *testing.T) {
	c := &clock{now: t0}
	e := newTestEngine(c)

	cfg := model.NewInstrumentationConfiguration(model.MethodID{ClassName: "A", MethodName: "a", Signature: "()V"})
	require.NoError(t, e.Ingest(Envelope{Kind: KindInstrumentation, AgentJVM: jvm, Timestamp: t0, Instrumentation: &cfg}))

	c.now = t0.Add(3 * time.Minute)
	_, ok, err := e.ReportedConfiguration(context.Background(), jvm)
	require.NoError(t, err)
	assert.False(t, ok, "report is older than the config horizon")

	_, ok, err = e.ReportedConfiguration(context.Background(), model.AgentJVM{AccountID: "x", AgentID: "y", JVMID: "z"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_PrunesMetadataWithEvictedSamples(t *testing.T) {
	c := &clock{now: t0}
	e := newTestEngine(c)

	require.NoError(t, e.Ingest(dumpEnvelope(t0, "d1", worker("w-1"))))
	idle := worker("w-2")
	idle.State = "WAITING"
	require.NoError(t, e.Ingest(dumpEnvelope(t0, "d1b", idle)))

	w := e.windows(jvm, false)
	threads, _ := w.interner.Len()
	require.Equal(t, 2, threads)

	c.now = t0.Add(DefaultConfig().SampleHorizon + time.Second)
	require.NoError(t, e.Ingest(dumpEnvelope(c.now, "d2", worker("w-3"))))

	threads, _ = w.interner.Len()
	assert.Equal(t, 1, threads, "only the RUNNABLE stack is still referenced")

	meta, occs, err := e.FetchThreads(context.Background(), jvm, t0, c.now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Contains(t, meta, occs[0].MetadataID)
}

func TestEngine_RejectsInvalidEnvelope(t *testing.T) {
	e := newTestEngine(&clock{now: t0})

	assert.Error(t, e.Ingest(Envelope{Kind: KindLoad, AgentJVM: jvm, Timestamp: t0}))
	assert.Error(t, e.Ingest(Envelope{Kind: "bogus", AgentJVM: jvm, Timestamp: t0}))
	assert.Error(t, e.Ingest(loadEnvelope(time.Time{}, 1)))
	assert.Empty(t, e.JVMs())
}

func TestCorrelate_FlagsSpikes(t *testing.T) {
	c := &clock{now: t0.Add(10 * time.Second)}
	e := newTestEngine(c)

	loads := []float64{0.2, 0.2, 0.9, 0.2, 0.25, 0.2}
	for i, l := range loads {
		require.NoError(t, e.Ingest(loadEnvelope(t0.Add(time.Duration(i)*time.Second), l)))
	}
	require.NoError(t, e.Ingest(dumpEnvelope(t0.Add(2*time.Second), "spike-dump", worker("w"))))
	require.NoError(t, e.Ingest(dumpEnvelope(t0.Add(5*time.Second), "quiet-dump", worker("w"))))

	spikes := e.Correlate(jvm)
	require.Len(t, spikes, 1)
	assert.InDelta(t, 0.9, spikes[0].Load.CPULoad, 1e-9)
	assert.Equal(t, []string{"spike-dump"}, spikes[0].DumpIDs)
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := json.Marshal(loadEnvelope(t0, 0.5))
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, KindLoad, env.Kind)
	assert.Equal(t, jvm, env.AgentJVM)

	_, err = DecodeEnvelope([]byte(`{"kind":"load"}`))
	assert.Error(t, err)
}

func TestEngine_EvictsIdleJVMs(t *testing.T) {
	c := &clock{now: t0}
	e := newTestEngine(c)
	other := model.AgentJVM{AccountID: "acct", AgentID: "agent", JVMID: "other"}

	require.NoError(t, e.Ingest(loadEnvelope(t0, 0.5)))
	busy := loadEnvelope(t0.Add(time.Minute), 0.5)
	busy.AgentJVM = other
	require.NoError(t, e.Ingest(busy))

	assert.Equal(t, 1, e.Evict(t0.Add(30*time.Second)))
	assert.Equal(t, []model.AgentJVM{other}, e.JVMs())
	assert.Zero(t, e.Evict(t0.Add(30*time.Second)))
}
