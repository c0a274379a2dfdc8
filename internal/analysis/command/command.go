// Package command defines the closed set of commands the analysis engine
// sends to agents.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jvmscope/jvmscope/internal/model"
)

// Feature identifies the kind of a command.
type Feature int

const (
	// FeatureSnapshot asks the agent to capture a snapshot of the given
	// duration.
	FeatureSnapshot Feature = iota + 1
	// FeatureInstrumentation replaces the agent's instrumentation.
	FeatureInstrumentation
	// FeatureClassInfo asks the agent to report method signatures.
	FeatureClassInfo
)

var featureNames = map[Feature]string{
	FeatureSnapshot:        "snapshot",
	FeatureInstrumentation: "instrumentation",
	FeatureClassInfo:       "class_info",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("feature(%d)", int(f))
}

// ParseFeature converts a feature name back to its value.
func ParseFeature(s string) (Feature, error) {
	for f, name := range featureNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Feature) MarshalText() ([]byte, error) {
	if _, ok := featureNames[f]; !ok {
		return nil, fmt.Errorf("unknown feature %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Feature) UnmarshalText(b []byte) error {
	v, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Command is one agent command. Only the fields of its Feature are set.
type Command struct {
	ID        string    `json:"id"`
	Feature   Feature   `json:"feature"`
	CreatedAt time.Time `json:"created_at"`

	// SnapshotDuration is the capture duration in seconds.
	SnapshotDuration int `json:"snapshot_duration,omitempty"`
	// Instrumentation is the full configuration the agent must apply.
	Instrumentation *model.InstrumentationConfiguration `json:"instrumentation,omitempty"`
	// MissingSignatures maps internal class names to method names.
	MissingSignatures map[string][]string `json:"missing_signatures,omitempty"`
}

// Snapshot builds a snapshot command.
func Snapshot(seconds int) Command {
	return Command{
		ID:               uuid.NewString(),
		Feature:          FeatureSnapshot,
		CreatedAt:        time.Now().UTC(),
		SnapshotDuration: seconds,
	}
}

// Instrumentation builds an instrumentation command carrying a copy of cfg.
func Instrumentation(cfg model.InstrumentationConfiguration) Command {
	c := cfg.Clone()
	return Command{
		ID:              uuid.NewString(),
		Feature:         FeatureInstrumentation,
		CreatedAt:       time.Now().UTC(),
		Instrumentation: &c,
	}
}

// ClassInfo builds a missing-signature request.
func ClassInfo(missing map[string][]string) Command {
	return Command{
		ID:                uuid.NewString(),
		Feature:           FeatureClassInfo,
		CreatedAt:         time.Now().UTC(),
		MissingSignatures: missing,
	}
}

// Validate checks that the payload matches the feature.
func (c Command) Validate() error {
	switch c.Feature {
	case FeatureSnapshot:
		if c.SnapshotDuration < model.MinSnapshotDuration || c.SnapshotDuration > model.MaxSnapshotDuration {
			return fmt.Errorf("snapshot duration %d out of range [%d, %d]",
				c.SnapshotDuration, model.MinSnapshotDuration, model.MaxSnapshotDuration)
		}
	case FeatureInstrumentation:
		if c.Instrumentation == nil {
			return errors.New("instrumentation command without configuration")
		}
	case FeatureClassInfo:
		if len(c.MissingSignatures) == 0 {
			return errors.New("class info command without classes")
		}
	default:
		return fmt.Errorf("unknown feature %d", int(c.Feature))
	}
	return nil
}

// Encode serializes the command for storage or transport.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses an encoded command and validates it.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	return c, nil
}
