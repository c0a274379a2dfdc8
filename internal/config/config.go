// Package config loads the jvmscope configuration: built-in defaults, then
// an optional YAML file, then JVMSCOPE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at the config file.
const EnvConfigPath = "JVMSCOPE_CONFIG"

// Config is the full configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig locates the DuckDB database.
type StorageConfig struct {
	// Path is the directory holding the database file.
	Path       string `yaml:"path" env:"JVMSCOPE_STORAGE_PATH"`
	InstanceID string `yaml:"instance_id" env:"JVMSCOPE_INSTANCE_ID"`
	// Retention is how long raw samples and summaries are kept.
	Retention time.Duration `yaml:"retention" env:"JVMSCOPE_RETENTION"`
}

// AnalysisConfig tunes the analysis cycles.
type AnalysisConfig struct {
	Interval        time.Duration `yaml:"interval" env:"JVMSCOPE_ANALYSIS_INTERVAL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"JVMSCOPE_CLEANUP_INTERVAL"`
	LockLease       time.Duration `yaml:"lock_lease" env:"JVMSCOPE_LOCK_LEASE"`
	// SettleDelay holds back the newest samples, which may still be in
	// flight, from the window a cycle analyzes.
	SettleDelay             time.Duration `yaml:"settle_delay" env:"JVMSCOPE_SETTLE_DELAY"`
	MaxConcurrentCycles     int           `yaml:"max_concurrent_cycles" env:"JVMSCOPE_MAX_CONCURRENT_CYCLES"`
	InitialSnapshotDuration int           `yaml:"initial_snapshot_duration" env:"JVMSCOPE_INITIAL_SNAPSHOT_DURATION"`
}

// StreamConfig configures the message bus variant.
type StreamConfig struct {
	Enabled       bool          `yaml:"enabled" env:"JVMSCOPE_STREAM_ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"JVMSCOPE_KAFKA_BROKERS"`
	SampleTopic   string        `yaml:"sample_topic" env:"JVMSCOPE_SAMPLE_TOPIC"`
	CommandTopic  string        `yaml:"command_topic" env:"JVMSCOPE_COMMAND_TOPIC"`
	GroupID       string        `yaml:"group_id" env:"JVMSCOPE_GROUP_ID"`
	LoadHorizon   time.Duration `yaml:"load_horizon" env:"JVMSCOPE_LOAD_HORIZON"`
	ConfigHorizon time.Duration `yaml:"config_horizon" env:"JVMSCOPE_CONFIG_HORIZON"`
	LookBack      int           `yaml:"look_back" env:"JVMSCOPE_LOOK_BACK"`
	LookAhead     int           `yaml:"look_ahead" env:"JVMSCOPE_LOOK_AHEAD"`
	SpikeFactor   float64       `yaml:"spike_factor" env:"JVMSCOPE_SPIKE_FACTOR"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"JVMSCOPE_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"JVMSCOPE_LOG_PRETTY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "./data",
			InstanceID: "jvmscope",
			Retention:  7 * 24 * time.Hour,
		},
		Analysis: AnalysisConfig{
			Interval:                15 * time.Second,
			CleanupInterval:         time.Hour,
			LockLease:               time.Minute,
			SettleDelay:             5 * time.Second,
			MaxConcurrentCycles:     8,
			InitialSnapshotDuration: 1,
		},
		Stream: StreamConfig{
			SampleTopic:   "jvmscope.samples",
			CommandTopic:  "jvmscope.commands",
			GroupID:       "jvmscope-analysis",
			LoadHorizon:   60 * time.Second,
			ConfigHorizon: 120 * time.Second,
			LookBack:      3,
			LookAhead:     3,
			SpikeFactor:   1.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. When path is empty JVMSCOPE_CONFIG is
// consulted; without either, only defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path.
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
