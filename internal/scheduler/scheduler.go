// Package scheduler drives analysis cycles: on every round it runs one
// cycle per active AgentJVM with bounded parallelism, never two at once
// for the same JVM, and periodically removes data past retention.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	jserrors "github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/logging"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Stepper runs one analysis cycle.
type Stepper interface {
	Step(ctx context.Context, jvm model.AgentJVM, refreshThreshold time.Time) (*step.Report, error)
}

// ListFunc returns the JVMs that sent data at or after since.
type ListFunc func(ctx context.Context, since time.Time) ([]model.AgentJVM, error)

// CleanupFunc removes data older than before. It may be nil.
type CleanupFunc func(ctx context.Context, before time.Time) error

// Config configures a Scheduler.
type Config struct {
	Interval        time.Duration
	CleanupInterval time.Duration
	// SettleDelay holds the window end back from now so late uploads still
	// land inside the window that covers them.
	SettleDelay time.Duration
	// ActiveWithin limits rounds to JVMs seen this recently. Zero means all.
	ActiveWithin time.Duration
	Retention    time.Duration
	// MaxConcurrent bounds the cycles running in parallel.
	MaxConcurrent int
}

// RoundResult counts the outcomes of one round.
type RoundResult struct {
	Completed int
	Skipped   int
	Busy      int
	Stale     int
	Failed    int
}

// Scheduler runs analysis rounds.
type Scheduler struct {
	list    ListFunc
	stepper Stepper
	cleanup CleanupFunc
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	loop *Loop

	mu       sync.Mutex
	inFlight map[model.AgentJVM]struct{}
}

// New creates a scheduler.
func New(list ListFunc, stepper Stepper, cleanup CleanupFunc, config Config, logger zerolog.Logger) *Scheduler {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	logger = logging.Component(logger, "scheduler")
	return &Scheduler{
		list:     list,
		stepper:  stepper,
		cleanup:  cleanup,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: make(map[model.AgentJVM]struct{}),
		loop: NewLoop(context.Background(), LoopConfig{
			Interval:        config.Interval,
			CleanupInterval: config.CleanupInterval,
			Logger:          logger,
		}),
	}
}

// Start begins periodic rounds.
func (s *Scheduler) Start() error {
	return s.loop.Start(s)
}

// Stop stops the rounds and waits for running cycles.
func (s *Scheduler) Stop() error {
	return s.loop.Stop()
}

// RunOnce runs one round.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.Round(ctx)
	return err
}

// Round runs one cycle for every active JVM and reports the outcomes. A
// JVM whose previous cycle is still running in this process is skipped.
func (s *Scheduler) Round(ctx context.Context) (RoundResult, error) {
	now := s.now()
	var since time.Time
	if s.config.ActiveWithin > 0 {
		since = now.Add(-s.config.ActiveWithin)
	}
	jvms, err := s.list(ctx, since)
	if err != nil {
		return RoundResult{}, fmt.Errorf("failed to list agent jvms: %w", err)
	}
	threshold := now.Add(-s.config.SettleDelay)

	var completed, skipped, busy, stale, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrent)

	for _, jvm := range jvms {
		if !s.claim(jvm) {
			skipped.Add(1)
			s.logger.Debug().Str("agent_jvm", jvm.String()).Msg("Cycle still running, skipping")
			continue
		}
		jvm := jvm
		g.Go(func() error {
			defer s.release(jvm)

			report, err := s.stepper.Step(ctx, jvm, threshold)
			switch {
			case err == nil:
				if report != nil && report.Skipped {
					skipped.Add(1)
				} else {
					completed.Add(1)
				}
			case errors.Is(err, step.ErrLockBusy):
				busy.Add(1)
			case errors.Is(err, step.ErrStaleCycle):
				stale.Add(1)
				s.logger.Warn().Str("agent_jvm", jvm.String()).Msg("Cycle lost its lease, state discarded")
			case jserrors.IsCancellation(err):
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := RoundResult{
		Completed: int(completed.Load()),
		Skipped:   int(skipped.Load()),
		Busy:      int(busy.Load()),
		Stale:     int(stale.Load()),
		Failed:    int(failed.Load()),
	}
	if len(jvms) > 0 {
		s.logger.Info().
			Int("jvms", len(jvms)).
			Int("completed", res.Completed).
			Int("skipped", res.Skipped).
			Int("busy", res.Busy).
			Int("stale", res.Stale).
			Int("failed", res.Failed).
			Time("threshold", threshold).
			Msg("Analysis round finished")
	}
	return res, nil
}

// RunCleanup removes data older than the retention period.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	if s.cleanup == nil || s.config.Retention <= 0 {
		return nil
	}
	before := s.now().Add(-s.config.Retention)
	if err := s.cleanup(ctx, before); err != nil {
		return fmt.Errorf("failed to clean up data before %s: %w", before.Format(time.RFC3339), err)
	}
	return nil
}

func (s *Scheduler) claim(jvm model.AgentJVM) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[jvm]; ok {
		return false
	}
	s.inFlight[jvm] = struct{}{}
	return true
}

func (s *Scheduler) release(jvm model.AgentJVM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, jvm)
}
