package model

import "time"

const (
	// MinSnapshotDuration and MaxSnapshotDuration bound the snapshot capture
	// duration in seconds.
	MinSnapshotDuration = 1
	MaxSnapshotDuration = 5
)

// Epoch is the processed-until mark of a JVM that was never analyzed.
var Epoch = time.Unix(0, 0).UTC()

// AnalysisState is the only state carried from one cycle to the next for an
// AgentJVM.
type AnalysisState struct {
	ProcessedUntil   time.Time                    `json:"processed_until"`
	SnapshotDuration int                          `json:"snapshot_duration"`
	Instrumentation  InstrumentationConfiguration `json:"instrumentation"`
}

// NewAnalysisState returns the state of a JVM seen for the first time.
func NewAnalysisState(initialDuration int) *AnalysisState {
	return &AnalysisState{
		ProcessedUntil:   Epoch,
		SnapshotDuration: ClampSnapshotDuration(initialDuration),
		Instrumentation:  NewInstrumentationConfiguration(),
	}
}

// Clone returns a deep copy.
func (s *AnalysisState) Clone() *AnalysisState {
	if s == nil {
		return nil
	}
	return &AnalysisState{
		ProcessedUntil:   s.ProcessedUntil,
		SnapshotDuration: s.SnapshotDuration,
		Instrumentation:  s.Instrumentation.Clone(),
	}
}

// ClampSnapshotDuration bounds d to [MinSnapshotDuration, MaxSnapshotDuration].
func ClampSnapshotDuration(d int) int {
	if d < MinSnapshotDuration {
		return MinSnapshotDuration
	}
	if d > MaxSnapshotDuration {
		return MaxSnapshotDuration
	}
	return d
}
