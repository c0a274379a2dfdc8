package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/scheduler"
	"github.com/jvmscope/jvmscope/internal/transport/kafka"
	"github.com/jvmscope/jvmscope/pkg/version"
)

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run scheduled analysis over the DuckDB store",
		Long: `Runs an analysis cycle for every recently active JVM on each interval and
removes data past the retention period.

When stream.enabled is set, samples and class metadata are also consumed
from the Kafka sample topic and written to the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDatabase(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer errors.DeferClose(logger, db, "Failed to close database")

			orchestrator := step.NewOrchestrator(step.Dependencies{
				Samples:   db,
				Classes:   db,
				Locker:    db,
				Commander: db,
				Summaries: db,
			}, stepConfig(cfg), logger)
			sched := scheduler.New(db.ListAgentJVMs, orchestrator, storeCleanup(db), schedulerConfig(cfg), logger)

			var consumer *kafka.Consumer
			if cfg.Stream.Enabled {
				consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers: cfg.Stream.Brokers,
					Topic:   cfg.Stream.SampleTopic,
					GroupID: cfg.Stream.GroupID,
				}, kafka.StoreHandler(db), logger)
				if err != nil {
					return fmt.Errorf("failed to create sample consumer: %w", err)
				}
				if err := consumer.Start(); err != nil {
					return fmt.Errorf("failed to start sample consumer: %w", err)
				}
			}

			if err := sched.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			logger.Info().
				Str("database", db.Path()).
				Bool("kafka_ingest", consumer != nil).
				Dur("interval", cfg.Analysis.Interval).
				Str("version", version.String()).
				Msg("jvmscope started")

			<-ctx.Done()
			logger.Info().Msg("Shutting down")

			if err := sched.Stop(); err != nil {
				logger.Warn().Err(err).Msg("Error stopping scheduler")
			}
			if consumer != nil {
				if err := consumer.Stop(); err != nil {
					logger.Warn().Err(err).Msg("Error stopping sample consumer")
				}
			}
			return nil
		},
	}
}
