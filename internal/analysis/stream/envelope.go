package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Kind names the payload of an envelope.
type Kind string

const (
	KindLoad            Kind = "load"
	KindThreadDump      Kind = "thread_dump"
	KindFlows           Kind = "flows"
	KindInstrumentation Kind = "instrumentation"
	KindClassMetadata   Kind = "class_metadata"
)

// ThreadSample is one thread of a dump as sent by the agent.
type ThreadSample struct {
	Name  string               `json:"name"`
	State string               `json:"state"`
	Stack []model.StackElement `json:"stack"`
}

// ThreadDump is a full thread dump.
type ThreadDump struct {
	DumpID  string         `json:"dump_id"`
	Threads []ThreadSample `json:"threads"`
}

// FlowSample is one observed edge as sent by the agent.
type FlowSample struct {
	Caller model.MethodRef `json:"caller"`
	Callee model.MethodRef `json:"callee"`
	Count  int             `json:"count"`
}

// FlowBatch is the flow evidence captured during one dump.
type FlowBatch struct {
	DumpID string       `json:"dump_id"`
	Flows  []FlowSample `json:"flows"`
}

// Envelope is one message on the sample topic. Exactly one payload matching
// Kind is set.
type Envelope struct {
	Kind      Kind           `json:"kind"`
	AgentJVM  model.AgentJVM `json:"agent_jvm"`
	Timestamp time.Time      `json:"timestamp"`

	Load            *model.LoadSample                   `json:"load,omitempty"`
	ThreadDump      *ThreadDump                         `json:"thread_dump,omitempty"`
	Flows           *FlowBatch                          `json:"flows,omitempty"`
	Instrumentation *model.InstrumentationConfiguration `json:"instrumentation,omitempty"`
	ClassMetadata   *model.ClassMetadata                `json:"class_metadata,omitempty"`
}

// Validate checks identity and payload.
func (e Envelope) Validate() error {
	if err := e.AgentJVM.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%s envelope without timestamp", e.Kind)
	}
	var ok bool
	switch e.Kind {
	case KindLoad:
		ok = e.Load != nil
	case KindThreadDump:
		ok = e.ThreadDump != nil
	case KindFlows:
		ok = e.Flows != nil
	case KindInstrumentation:
		ok = e.Instrumentation != nil
	case KindClassMetadata:
		ok = e.ClassMetadata != nil && e.ClassMetadata.ClassName != ""
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("%s envelope without payload", e.Kind)
	}
	return nil
}

// DecodeEnvelope parses and validates a message value.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return e, nil
}

// Raw expands the dump into raw samples taken at ts.
func (d *ThreadDump) Raw(ts time.Time) []aggregate.RawThreadSample {
	out := make([]aggregate.RawThreadSample, 0, len(d.Threads))
	for _, t := range d.Threads {
		out = append(out, aggregate.RawThreadSample{
			Timestamp:  ts,
			DumpID:     d.DumpID,
			ThreadName: t.Name,
			State:      t.State,
			Stack:      t.Stack,
		})
	}
	return out
}

// Raw expands the batch into raw samples taken at ts.
func (b *FlowBatch) Raw(ts time.Time) []aggregate.RawFlowSample {
	out := make([]aggregate.RawFlowSample, 0, len(b.Flows))
	for _, f := range b.Flows {
		out = append(out, aggregate.RawFlowSample{
			Timestamp: ts,
			DumpID:    b.DumpID,
			Caller:    f.Caller,
			Callee:    f.Callee,
			Count:     f.Count,
		})
	}
	return out
}
