package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/analysis/stream"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/logging"
	"github.com/jvmscope/jvmscope/internal/model"
	"github.com/jvmscope/jvmscope/internal/scheduler"
	"github.com/jvmscope/jvmscope/internal/transport/kafka"
	"github.com/jvmscope/jvmscope/pkg/version"
)

func newStreamCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Analyze samples straight from Kafka",
		Long: `Consumes sample envelopes from the Kafka sample topic into per-JVM time
windows and runs the analysis cycle over those windows. Commands are
published to the command topic. Analysis state, class metadata and flow
summaries are still kept in DuckDB.

After every cycle, load spikes found in the load window are logged together
with the thread dumps taken during the spike.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if len(cfg.Stream.Brokers) == 0 {
				return fmt.Errorf("stream.brokers is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDatabase(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, db, "Failed to close database")

			publisher, err := kafka.NewCommandPublisher(kafka.PublisherConfig{
				Brokers: cfg.Stream.Brokers,
				Topic:   cfg.Stream.CommandTopic,
			}, logger)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, publisher, "Failed to close command publisher")

			engine := stream.NewEngine(streamConfig(cfg), logger)
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers: cfg.Stream.Brokers,
				Topic:   cfg.Stream.SampleTopic,
				GroupID: cfg.Stream.GroupID,
			}, kafka.Chain(kafka.EngineHandler(engine), kafka.ClassHandler(db)), logger)
			if err != nil {
				return err
			}

			orchestrator := step.NewOrchestrator(step.Dependencies{
				Samples:   engine,
				Classes:   db,
				Locker:    db,
				Commander: publisher,
				Summaries: db,
				Reported:  engine,
			}, stepConfig(cfg), logger)
			stepper := &spikeReporter{next: orchestrator, engine: engine, logger: logging.Component(logger, "spike_reporter")}

			sched := scheduler.New(func(context.Context, time.Time) ([]model.AgentJVM, error) {
				return engine.JVMs(), nil
			}, stepper, func(ctx context.Context, before time.Time) error {
				engine.Evict(before)
				return storeCleanup(db)(ctx, before)
			}, schedulerConfig(cfg), logger)

			if err := consumer.Start(); err != nil {
				return fmt.Errorf("failed to start sample consumer: %w", err)
			}
			if err := sched.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			logger.Info().
				Strs("brokers", cfg.Stream.Brokers).
				Str("sample_topic", cfg.Stream.SampleTopic).
				Str("command_topic", cfg.Stream.CommandTopic).
				Str("version", version.String()).
				Msg("jvmscope streaming")

			<-ctx.Done()
			logger.Info().Msg("Shutting down")

			if err := consumer.Stop(); err != nil {
				logger.Warn().Err(err).Msg("Error stopping sample consumer")
			}
			if err := sched.Stop(); err != nil {
				logger.Warn().Err(err).Msg("Error stopping scheduler")
			}
			stats := consumer.Stats()
			logger.Info().
				Int64("received", stats.Received).
				Int64("handled", stats.Handled).
				Int64("invalid", stats.Invalid).
				Int64("failed", stats.Failed).
				Msg("Sample consumer stopped")
			return nil
		},
	}
}

// spikeReporter runs a cycle and then reports the new load spikes of the
// JVM, noting whether the summary has flow evidence from the spike's dumps.
type spikeReporter struct {
	next   scheduler.Stepper
	engine *stream.Engine
	logger zerolog.Logger

	mu       sync.Mutex
	reported map[model.AgentJVM]time.Time
}

func (s *spikeReporter) Step(ctx context.Context, jvm model.AgentJVM, threshold time.Time) (*step.Report, error) {
	report, err := s.next.Step(ctx, jvm, threshold)
	if err != nil || report == nil || report.Skipped {
		return report, err
	}

	s.mu.Lock()
	if s.reported == nil {
		s.reported = make(map[model.AgentJVM]time.Time)
	}
	last := s.reported[jvm]
	s.mu.Unlock()

	for _, spike := range s.engine.Correlate(jvm) {
		if !spike.Load.Timestamp.After(last) {
			continue
		}
		last = spike.Load.Timestamp
		covered := 0
		if report.Summary != nil {
			for _, id := range spike.DumpIDs {
				if report.Summary.Covers(id) {
					covered++
				}
			}
		}
		s.logger.Info().
			Str("agent_jvm", jvm.String()).
			Time("at", spike.Load.Timestamp).
			Float64("cpu_load", spike.Load.CPULoad).
			Float64("baseline", spike.Baseline).
			Strs("dump_ids", spike.DumpIDs).
			Int("dumps_with_flows", covered).
			Msg("Load spike")
	}

	s.mu.Lock()
	s.reported[jvm] = last
	s.mu.Unlock()
	return report, nil
}
