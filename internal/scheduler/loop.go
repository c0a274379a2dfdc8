package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is the work a Loop drives.
type Task interface {
	// RunOnce performs one round of work.
	RunOnce(ctx context.Context) error

	// RunCleanup removes data past retention.
	RunCleanup(ctx context.Context) error
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Interval is the time between two rounds.
	Interval time.Duration

	// CleanupInterval is the time between two cleanups (default: 1 hour).
	CleanupInterval time.Duration

	Logger zerolog.Logger
}

// Loop runs a task immediately and then on every tick, with cleanup on a
// separate ticker.
type Loop struct {
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
	interval        time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger
}

// NewLoop creates a loop bound to parentCtx.
func NewLoop(parentCtx context.Context, config LoopConfig) *Loop {
	ctx, cancel := context.WithCancel(parentCtx)

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = time.Hour
	}

	return &Loop{
		ctx:             ctx,
		cancel:          cancel,
		interval:        config.Interval,
		cleanupInterval: cleanupInterval,
		logger:          config.Logger,
	}
}

// Start launches the loop. Starting a running loop is a no-op.
func (l *Loop) Start(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	l.logger.Info().
		Dur("interval", l.interval).
		Dur("cleanup_interval", l.cleanupInterval).
		Msg("Starting loop")

	l.wg.Add(2)
	go l.runLoop(task)
	go l.cleanupLoop(task)

	l.running = true
	return nil
}

// Stop cancels the loop and waits for the running round to finish.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}

	l.logger.Info().Msg("Stopping loop")

	l.cancel()
	l.wg.Wait()

	l.running = false
	return nil
}

// IsRunning reports whether the loop is running.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) runLoop(task Task) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if err := task.RunOnce(l.ctx); err != nil {
		l.logger.Error().Err(err).Msg("Initial round failed")
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := task.RunOnce(l.ctx); err != nil {
				l.logger.Error().Err(err).Msg("Round failed")
			}
		}
	}
}

func (l *Loop) cleanupLoop(task Task) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := task.RunCleanup(l.ctx); err != nil {
				l.logger.Error().Err(err).Msg("Cleanup failed")
			}
		}
	}
}
