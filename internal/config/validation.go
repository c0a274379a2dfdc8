package config

import (
	"errors"
	"fmt"

	"github.com/jvmscope/jvmscope/internal/model"
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Storage.InstanceID == "" {
		errs = append(errs, errors.New("storage.instance_id is required"))
	}
	positive("storage.retention", c.Storage.Retention > 0)

	a := c.Analysis
	positive("analysis.interval", a.Interval > 0)
	positive("analysis.cleanup_interval", a.CleanupInterval > 0)
	positive("analysis.lock_lease", a.LockLease > 0)
	positive("analysis.max_concurrent_cycles", a.MaxConcurrentCycles > 0)
	if a.SettleDelay < 0 {
		errs = append(errs, errors.New("analysis.settle_delay cannot be negative"))
	}
	if a.InitialSnapshotDuration < model.MinSnapshotDuration || a.InitialSnapshotDuration > model.MaxSnapshotDuration {
		errs = append(errs, fmt.Errorf("analysis.initial_snapshot_duration must be within [%d, %d]",
			model.MinSnapshotDuration, model.MaxSnapshotDuration))
	}

	s := c.Stream
	positive("stream.load_horizon", s.LoadHorizon > 0)
	positive("stream.config_horizon", s.ConfigHorizon > 0)
	positive("stream.spike_factor", s.SpikeFactor > 0)
	if s.LookBack < 0 || s.LookAhead < 0 {
		errs = append(errs, errors.New("stream.look_back and stream.look_ahead cannot be negative"))
	}
	if s.Enabled {
		if len(s.Brokers) == 0 {
			errs = append(errs, errors.New("stream.brokers is required when the stream is enabled"))
		}
		if s.SampleTopic == "" || s.CommandTopic == "" {
			errs = append(errs, errors.New("stream topics are required when the stream is enabled"))
		}
	}

	return errors.Join(errs...)
}
