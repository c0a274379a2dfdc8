package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/analysis/stream"
	"github.com/jvmscope/jvmscope/internal/config"
	"github.com/jvmscope/jvmscope/internal/database"
	"github.com/jvmscope/jvmscope/internal/logging"
	"github.com/jvmscope/jvmscope/internal/scheduler"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	logPretty  bool
	logJSON    bool
}

func (o *options) addFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "Config file (default: $"+config.EnvConfigPath+")")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&o.logPretty, "log-pretty", false, "Human readable log output (default when stderr is a terminal)")
	flags.BoolVar(&o.logJSON, "log-json", false, "JSON log output even on a terminal")
}

// load reads the configuration and builds the logger. Flags override the
// file and the environment.
func (o *options) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	switch {
	case o.logJSON:
		cfg.Logging.Pretty = false
	case o.logPretty, term.IsTerminal(int(os.Stderr.Fd())):
		cfg.Logging.Pretty = true
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	return cfg, logger, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger, readOnly bool) (*database.Database, error) {
	open := database.New
	if readOnly {
		open = database.NewReadOnly
	}
	db, err := open(ctx, cfg.Storage.Path, cfg.Storage.InstanceID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", cfg.Storage.Path, err)
	}
	return db, nil
}

func stepConfig(cfg *config.Config) step.Config {
	return step.Config{
		LockLease:               cfg.Analysis.LockLease,
		InitialSnapshotDuration: cfg.Analysis.InitialSnapshotDuration,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Interval:        cfg.Analysis.Interval,
		CleanupInterval: cfg.Analysis.CleanupInterval,
		SettleDelay:     cfg.Analysis.SettleDelay,
		ActiveWithin:    cfg.Storage.Retention,
		Retention:       cfg.Storage.Retention,
		MaxConcurrent:   cfg.Analysis.MaxConcurrentCycles,
	}
}

func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		LoadHorizon:   cfg.Stream.LoadHorizon,
		ConfigHorizon: cfg.Stream.ConfigHorizon,
		// Samples wait for the next cycle; keep at least two intervals.
		SampleHorizon: max(cfg.Stream.ConfigHorizon, 2*cfg.Analysis.Interval+cfg.Analysis.SettleDelay),
		LookBack:      cfg.Stream.LookBack,
		LookAhead:     cfg.Stream.LookAhead,
		SpikeFactor:   cfg.Stream.SpikeFactor,
	}
}

// storeCleanup adapts Database.Cleanup to the scheduler.
func storeCleanup(db *database.Database) scheduler.CleanupFunc {
	return func(ctx context.Context, before time.Time) error {
		_, err := db.Cleanup(ctx, before)
		return err
	}
}

func commandTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
