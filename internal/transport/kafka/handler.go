package kafka

import (
	"context"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/analysis/stream"
	"github.com/jvmscope/jvmscope/internal/model"
)

// EngineHandler files envelopes into the windows of a stream engine.
func EngineHandler(engine *stream.Engine) Handler {
	return func(_ context.Context, env stream.Envelope) error {
		return engine.Ingest(env)
	}
}

// ClassStore persists class metadata reported by agents.
type ClassStore interface {
	StoreClassMetadata(ctx context.Context, jvm model.AgentJVM, meta model.ClassMetadata) error
}

// SampleStore persists raw samples and class metadata.
type SampleStore interface {
	ClassStore
	IngestThreadDump(ctx context.Context, jvm model.AgentJVM, samples []aggregate.RawThreadSample) error
	IngestFlows(ctx context.Context, jvm model.AgentJVM, samples []aggregate.RawFlowSample) error
}

// ClassHandler stores class metadata envelopes and ignores the rest.
func ClassHandler(store ClassStore) Handler {
	return func(ctx context.Context, env stream.Envelope) error {
		if env.Kind != stream.KindClassMetadata {
			return nil
		}
		return store.StoreClassMetadata(ctx, env.AgentJVM, *env.ClassMetadata)
	}
}

// StoreHandler writes thread dumps, flows and class metadata to a store.
// Load and instrumentation envelopes carry nothing the store keeps and are
// ignored.
func StoreHandler(store SampleStore) Handler {
	classes := ClassHandler(store)
	return func(ctx context.Context, env stream.Envelope) error {
		switch env.Kind {
		case stream.KindThreadDump:
			return store.IngestThreadDump(ctx, env.AgentJVM, env.ThreadDump.Raw(env.Timestamp))
		case stream.KindFlows:
			return store.IngestFlows(ctx, env.AgentJVM, env.Flows.Raw(env.Timestamp))
		case stream.KindClassMetadata:
			return classes(ctx, env)
		}
		return nil
	}
}

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, env stream.Envelope) error {
		for _, h := range handlers {
			if err := h(ctx, env); err != nil {
				return err
			}
		}
		return nil
	}
}
