package step_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/analysis/duration"
	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/model"
	"github.com/jvmscope/jvmscope/internal/testutil"
)

var (
	base    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handle  = model.MethodRef{ClassName: "com.acme.Web", MethodName: "handle"}
	loadRef = model.MethodRef{ClassName: "com.acme.Repo", MethodName: "load"}
)

type harness struct {
	samples   *testutil.MemorySamples
	classes   *testutil.MemoryClasses
	locker    *testutil.MemoryLocker
	commander step.Commander
	commands  *testutil.MemoryCommander
	summaries *testutil.MemorySummaries
	reported  step.ReportedConfiguration
	config    step.Config
}

func newHarness() *harness {
	cmds := testutil.NewMemoryCommander()
	return &harness{
		samples:   testutil.NewMemorySamples(),
		classes:   testutil.NewMemoryClasses(),
		locker:    testutil.NewMemoryLocker(),
		commander: cmds,
		commands:  cmds,
		summaries: &testutil.MemorySummaries{},
		config:    step.Config{LockLease: time.Minute, InitialSnapshotDuration: 1},
	}
}

func (h *harness) orchestrator() *step.Orchestrator {
	return step.NewOrchestrator(step.Dependencies{
		Samples:   h.samples,
		Classes:   h.classes,
		Locker:    h.locker,
		Commander: h.commander,
		Summaries: h.summaries,
		Reported:  h.reported,
	}, h.config, zerolog.Nop())
}

func jvmN(i int) model.AgentJVM {
	return model.AgentJVM{AccountID: "acct", AgentID: "agent", JVMID: fmt.Sprintf("jvm-%d", i)}
}

// seed stores one thread dump whose stack runs Web.handle -> Repo.load and
// the matching flow edges.
func (h *harness) seed(jvm model.AgentJVM, at time.Time, dump string, flows bool) {
	thread := model.ThreadMetadata{
		State: "RUNNABLE",
		Stack: []model.StackElement{
			{ClassName: loadRef.ClassName, MethodName: loadRef.MethodName, Instrumentable: true},
			{ClassName: handle.ClassName, MethodName: handle.MethodName},
		},
	}
	thread.ID = aggregate.ThreadID(thread)
	h.samples.AddThread(jvm, thread, model.ThreadOccurrence{Timestamp: at, DumpID: dump})

	if !flows {
		return
	}
	edge := model.FlowMetadata{Caller: handle, Callee: loadRef}
	edge.ID = aggregate.FlowID(edge)
	h.samples.AddFlow(jvm, edge, model.FlowOccurrence{Timestamp: at, DumpID: dump, Count: 30})
}

// addFlow stores a Web.handle -> Repo.load edge sighting without a thread.
func (h *harness) addFlow(jvm model.AgentJVM, at time.Time, dump string, count int) {
	edge := model.FlowMetadata{Caller: handle, Callee: loadRef}
	edge.ID = aggregate.FlowID(edge)
	h.samples.AddFlow(jvm, edge, model.FlowOccurrence{Timestamp: at, DumpID: dump, Count: count})
}

func TestStep_FirstCycle(t *testing.T) {
	h := newHarness()
	h.classes.SetClass(model.ClassMetadata{
		ClassName:  loadRef.ClassName,
		Signatures: map[string][]string{"load": {"(J)V", "(I)V"}},
	})
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)

	threshold := base.Add(10 * time.Second)
	report, err := h.orchestrator().Step(context.Background(), jvm, threshold)
	require.NoError(t, err)

	assert.Equal(t, model.Epoch, report.From)
	assert.True(t, report.SnapshotAccepted)
	assert.True(t, report.InstrumentationAccepted)
	require.NotNil(t, report.Summary)
	assert.Len(t, report.Plan.Added, 2)

	state, ok := h.locker.State(jvm)
	require.True(t, ok)
	assert.Equal(t, threshold, state.ProcessedUntil)
	assert.Equal(t, 2, state.Instrumentation.Len())
	assert.Len(t, h.summaries.All(), 1)
	assert.Len(t, h.commands.Submitted(command.FeatureSnapshot), 1)
	assert.False(t, h.locker.Held(jvm))
}

func TestStep_RejectedSnapshotRetriesWindow(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)
	o := h.orchestrator()

	_, err := o.Step(context.Background(), jvm, base.Add(5*time.Second))
	require.NoError(t, err)
	first, _ := h.locker.State(jvm)

	h.seed(jvm, base.Add(6*time.Second), "d2", false)
	h.addFlow(jvm, base.Add(6*time.Second), "d2", 1)

	h.commands.Reject(command.FeatureSnapshot)
	rejected, err := o.Step(context.Background(), jvm, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, rejected.SnapshotAccepted)
	assert.Equal(t, first.ProcessedUntil, rejected.From)

	assert.Equal(t, 2, rejected.Duration.Next, "sparse flow asks for a longer snapshot")

	state, _ := h.locker.State(jvm)
	assert.Equal(t, first.ProcessedUntil, state.ProcessedUntil, "window not advanced")
	assert.Equal(t, first.SnapshotDuration, state.SnapshotDuration, "duration not committed")

	h.commands.Accept(command.FeatureSnapshot)
	retried, err := o.Step(context.Background(), jvm, base.Add(15*time.Second))
	require.NoError(t, err)
	assert.Equal(t, rejected.From, retried.From)
	assert.Equal(t, base.Add(15*time.Second), retried.State.ProcessedUntil)
}

func TestStep_NoFlowsKeepsDuration(t *testing.T) {
	h := newHarness()
	h.config.InitialSnapshotDuration = 3
	h.classes.SetClass(model.ClassMetadata{
		ClassName:  loadRef.ClassName,
		Signatures: map[string][]string{"load": {"(J)V"}},
	})
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", false)

	report, err := h.orchestrator().Step(context.Background(), jvm, base.Add(time.Second))
	require.NoError(t, err)

	assert.Nil(t, report.Summary)
	assert.Equal(t, 3, report.State.SnapshotDuration)
	assert.Empty(t, h.summaries.All())
	// Threads alone still drive instrumentation, otherwise no flow could
	// ever be observed.
	assert.Equal(t, 1, report.State.Instrumentation.Len())
}

func TestStep_MissingMetadataAborts(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)
	threads, _, err := h.samples.FetchThreads(context.Background(), jvm, base, base.Add(time.Second))
	require.NoError(t, err)
	for id := range threads {
		h.samples.DropThreadMetadata(jvm, id)
	}

	_, err = h.orchestrator().Step(context.Background(), jvm, base.Add(time.Second))
	require.ErrorIs(t, err, aggregate.ErrMissingMetadata)

	_, ok := h.locker.State(jvm)
	assert.False(t, ok, "nothing committed")
	assert.False(t, h.locker.Held(jvm), "lock released")
	assert.Empty(t, h.commands.Submitted(command.FeatureSnapshot))
}

func TestStep_LockBusy(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)

	held, err := h.locker.Acquire(context.Background(), jvm, time.Minute)
	require.NoError(t, err)

	_, err = h.orchestrator().Step(context.Background(), jvm, base)
	assert.ErrorIs(t, err, step.ErrLockBusy)

	require.NoError(t, held.Release(context.Background()))
	_, err = h.orchestrator().Step(context.Background(), jvm, base)
	assert.NoError(t, err)
}

type stealingCommander struct {
	step.Commander
	locker *testutil.MemoryLocker
}

func (s stealingCommander) Submit(ctx context.Context, jvm model.AgentJVM, cmd command.Command) (bool, error) {
	s.locker.Steal(jvm)
	return s.Commander.Submit(ctx, jvm, cmd)
}

func TestStep_LostLeaseIsNotCommitted(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)
	h.commander = stealingCommander{Commander: h.commands, locker: h.locker}

	_, err := h.orchestrator().Step(context.Background(), jvm, base.Add(time.Second))
	require.ErrorIs(t, err, step.ErrStaleCycle)

	_, ok := h.locker.State(jvm)
	assert.False(t, ok)
}

func TestStep_EmptyWindowSkips(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	o := h.orchestrator()

	// No samples, but the range is not empty: the cycle still commits.
	first, err := o.Step(context.Background(), jvm, base)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Nil(t, first.Summary)
	state, ok := h.locker.State(jvm)
	require.True(t, ok)
	assert.Equal(t, base, state.ProcessedUntil)

	report, err := o.Step(context.Background(), jvm, base)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Len(t, h.commands.Submitted(command.FeatureSnapshot), 1)
}

func TestStep_WindowsAdvanceWithoutOverlap(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	o := h.orchestrator()

	var prevTo time.Time
	for i := 1; i <= 5; i++ {
		h.seed(jvm, base.Add(time.Duration(i)*time.Second), fmt.Sprintf("d%d", i), true)
		report, err := o.Step(context.Background(), jvm, base.Add(time.Duration(i)*time.Second+500*time.Millisecond))
		require.NoError(t, err)

		if i > 1 {
			assert.Equal(t, prevTo, report.From)
		}
		assert.True(t, report.To.After(report.From))
		prevTo = report.To
	}

	for _, s := range h.summaries.All()[1:] {
		require.Len(t, s.ThreadSummaries, 1)
		assert.Equal(t, 1, s.ThreadSummaries[0].Total, "each dump is analyzed exactly once")
	}
}

func TestStep_BlacklistRemovesInstrumentation(t *testing.T) {
	h := newHarness()
	h.classes.SetClass(model.ClassMetadata{
		ClassName:  loadRef.ClassName,
		Signatures: map[string][]string{"load": {"(J)V"}},
	})
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)
	o := h.orchestrator()

	report, err := o.Step(context.Background(), jvm, base.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, report.State.Instrumentation.Len())

	h.classes.Blacklist(loadRef.ClassName)
	h.seed(jvm, base.Add(2*time.Second), "d2", true)
	report, err = o.Step(context.Background(), jvm, base.Add(3*time.Second))
	require.NoError(t, err)
	assert.Zero(t, report.State.Instrumentation.Len())
	assert.Len(t, h.commands.Submitted(command.FeatureInstrumentation), 2)
}

func TestStep_MissingSignaturesRequested(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)

	report, err := h.orchestrator().Step(context.Background(), jvm, base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, report.ClassInfoRequested)

	requests := h.commands.Submitted(command.FeatureClassInfo)
	require.Len(t, requests, 1)
	assert.Equal(t, map[string][]string{"com/acme/Repo": {"load"}}, requests[0].Command.MissingSignatures)
}

func TestStep_ConcurrentJVMs(t *testing.T) {
	h := newHarness()
	o := h.orchestrator()

	const n = 16
	for i := 0; i < n; i++ {
		h.seed(jvmN(i), base, "d1", true)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Step(context.Background(), jvmN(i), base.Add(time.Second))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		state, ok := h.locker.State(jvmN(i))
		require.True(t, ok)
		assert.Equal(t, base.Add(time.Second), state.ProcessedUntil)
	}
	assert.Len(t, h.summaries.All(), n)
}

func TestStep_RejectedSnapshotsKeepDuration(t *testing.T) {
	h := newHarness()
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", false)
	h.addFlow(jvm, base, "d1", 1)
	h.commands.Reject(command.FeatureSnapshot)
	o := h.orchestrator()

	for i := 1; i <= 3; i++ {
		report, err := o.Step(context.Background(), jvm, base.Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		assert.False(t, report.SnapshotAccepted)
		assert.Equal(t, 1, report.Duration.Previous, "cycle %d", i)
		assert.Equal(t, 2, report.Duration.Next, "cycle %d", i)

		state, ok := h.locker.State(jvm)
		require.True(t, ok)
		assert.Equal(t, 1, state.SnapshotDuration, "cycle %d", i)
		assert.Equal(t, model.Epoch, state.ProcessedUntil, "cycle %d", i)
	}
}

func TestStep_CommittedInstrumentationCountsAsInstrumented(t *testing.T) {
	h := newHarness()
	h.classes.SetClass(model.ClassMetadata{
		ClassName:  loadRef.ClassName,
		Signatures: map[string][]string{"load": {"(J)V"}},
	})
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)
	o := h.orchestrator()

	first, err := o.Step(context.Background(), jvm, base.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, first.InstrumentationAccepted)
	assert.Equal(t, duration.ReasonNone, first.Duration.Reason)
	assert.Equal(t, 1, h.classes.Fetches(loadRef.ClassName))

	// Repo.load is now instrumented but the agent did not flag the frame.
	// The only flow derives from another dump at 3 per second.
	h.seed(jvm, base.Add(12*time.Second), "d2", false)
	h.addFlow(jvm, base.Add(14*time.Second), "d3", 30)

	second, err := o.Step(context.Background(), jvm, base.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, duration.ReasonUncovered, second.Duration.Reason)
	assert.Equal(t, 2, second.Duration.Next)
	require.NotNil(t, second.Plan)
	assert.Empty(t, second.Plan.Added)
	assert.Equal(t, 1, h.classes.Fetches(loadRef.ClassName), "instrumented frame is not looked up again")
}

type fixedReported struct {
	config model.InstrumentationConfiguration
	calls  int
}

func (f *fixedReported) ReportedConfiguration(context.Context, model.AgentJVM) (model.InstrumentationConfiguration, bool, error) {
	f.calls++
	return f.config, true, nil
}

func TestStep_AdoptsReportedInstrumentation(t *testing.T) {
	h := newHarness()
	h.classes.SetClass(model.ClassMetadata{
		ClassName:  loadRef.ClassName,
		Signatures: map[string][]string{"load": {"(J)V"}},
	})
	reported := &fixedReported{config: model.NewInstrumentationConfiguration(
		model.MethodID{ClassName: loadRef.ClassName, MethodName: loadRef.MethodName, Signature: "(J)V"},
	)}
	h.reported = reported
	jvm := jvmN(1)
	h.seed(jvm, base, "d1", true)

	report, err := h.orchestrator().Step(context.Background(), jvm, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, reported.calls)
	require.NotNil(t, report.Plan)
	assert.Empty(t, report.Plan.Added)
	assert.False(t, report.InstrumentationAccepted, "nothing new to submit")
	assert.Empty(t, h.commands.Submitted(command.FeatureInstrumentation))
	assert.Zero(t, h.classes.Fetches(loadRef.ClassName))

	state, ok := h.locker.State(jvm)
	require.True(t, ok)
	assert.True(t, state.Instrumentation.Equal(reported.config))
}
