package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/model"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func jvmN(i int) model.AgentJVM {
	return model.AgentJVM{AccountID: "acct", AgentID: "agent", JVMID: fmt.Sprintf("jvm-%d", i)}
}

type fakeStepper struct {
	mu         sync.Mutex
	errs       map[model.AgentJVM]error
	thresholds []time.Time
	block      chan struct{}
	started    chan model.AgentJVM
}

func (f *fakeStepper) Step(_ context.Context, jvm model.AgentJVM, threshold time.Time) (*step.Report, error) {
	f.mu.Lock()
	f.thresholds = append(f.thresholds, threshold)
	err := f.errs[jvm]
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- jvm:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if err != nil {
		return nil, err
	}
	return &step.Report{AgentJVM: jvm}, nil
}

func listOf(jvms ...model.AgentJVM) ListFunc {
	return func(context.Context, time.Time) ([]model.AgentJVM, error) {
		return jvms, nil
	}
}

func newTestScheduler(list ListFunc, stepper Stepper, cleanup CleanupFunc, config Config) *Scheduler {
	s := New(list, stepper, cleanup, config, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestRound_CountsOutcomes(t *testing.T) {
	stepper := &fakeStepper{errs: map[model.AgentJVM]error{
		jvmN(2): fmt.Errorf("acquire: %w", step.ErrLockBusy),
		jvmN(3): fmt.Errorf("commit: %w", step.ErrStaleCycle),
		jvmN(4): fmt.Errorf("storage down"),
	}}
	s := newTestScheduler(listOf(jvmN(1), jvmN(2), jvmN(3), jvmN(4)), stepper, nil,
		Config{SettleDelay: 5 * time.Second, MaxConcurrent: 2})

	res, err := s.Round(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RoundResult{Completed: 1, Busy: 1, Stale: 1, Failed: 1}, res)

	require.Len(t, stepper.thresholds, 4)
	for _, th := range stepper.thresholds {
		assert.Equal(t, now.Add(-5*time.Second), th)
	}
}

func TestRound_SkipsJVMWithCycleInFlight(t *testing.T) {
	stepper := &fakeStepper{block: make(chan struct{}), started: make(chan model.AgentJVM, 1)}
	s := newTestScheduler(listOf(jvmN(1)), stepper, nil, Config{})

	done := make(chan RoundResult)
	go func() {
		res, _ := s.Round(context.Background())
		done <- res
	}()
	<-stepper.started

	second, err := s.Round(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)

	close(stepper.block)
	first := <-done
	assert.Equal(t, 1, first.Completed)
}

func TestRound_ListsActiveJVMs(t *testing.T) {
	var since time.Time
	list := func(_ context.Context, s time.Time) ([]model.AgentJVM, error) {
		since = s
		return nil, nil
	}
	s := newTestScheduler(list, &fakeStepper{}, nil, Config{ActiveWithin: time.Hour})

	res, err := s.Round(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RoundResult{}, res)
	assert.Equal(t, now.Add(-time.Hour), since)
}

func TestRunCleanup(t *testing.T) {
	var before time.Time
	cleanup := func(_ context.Context, b time.Time) error {
		before = b
		return nil
	}
	s := newTestScheduler(listOf(), &fakeStepper{}, cleanup, Config{Retention: 24 * time.Hour})
	require.NoError(t, s.RunCleanup(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), before)

	noRetention := newTestScheduler(listOf(), &fakeStepper{}, cleanup, Config{})
	before = time.Time{}
	require.NoError(t, noRetention.RunCleanup(context.Background()))
	assert.True(t, before.IsZero())
}

func TestScheduler_StartStop(t *testing.T) {
	stepper := &fakeStepper{started: make(chan model.AgentJVM, 16)}
	s := newTestScheduler(listOf(jvmN(1)), stepper, nil, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.loop.IsRunning())

	// The first round runs immediately, the next on the ticker.
	for i := 0; i < 2; i++ {
		select {
		case <-stepper.started:
		case <-time.After(2 * time.Second):
			t.Fatal("round did not run")
		}
	}
	require.NoError(t, s.Stop())
	assert.False(t, s.loop.IsRunning())
}
