package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jvmscope/jvmscope/internal/analysis/aggregate"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

// IngestThreadDump deduplicates a batch of raw thread samples and stores the
// merged metadata together with one occurrence per sample.
func (d *Database) IngestThreadDump(ctx context.Context, jvm model.AgentJVM, samples []aggregate.RawThreadSample) error {
	if err := jvm.Validate(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	interner := aggregate.NewInterner()
	occurrences := make([]*threadOccurrenceRow, 0, len(samples))
	for _, s := range samples {
		occ := interner.InternThread(s)
		occurrences = append(occurrences, &threadOccurrenceRow{
			JVM:        jvm.String(),
			Timestamp:  occ.Timestamp.UTC(),
			MetadataID: occ.MetadataID,
			DumpID:     occ.DumpID,
			Count:      occ.Count,
		})
	}

	batch := interner.Threads()
	existing, err := d.loadThreadMetadata(ctx, jvm, mapKeys(batch))
	if err != nil {
		return err
	}

	metaRows := make([]*threadMetadataRow, 0, len(batch))
	for _, id := range sortedKeys(batch) {
		meta := batch[id]
		if prev, ok := existing[id]; ok {
			meta = prev.Merge(meta)
		}
		row, err := threadRow(jvm, meta)
		if err != nil {
			return err
		}
		metaRows = append(metaRows, row)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	if err := d.threadMeta.With(tx).BatchUpsert(ctx, metaRows); err != nil {
		return err
	}
	if err := d.threadOccs.With(tx).BatchUpsert(ctx, occurrences); err != nil {
		return err
	}
	if err := d.touchJVM(ctx, tx, jvm, latest(occurrences, func(r *threadOccurrenceRow) time.Time { return r.Timestamp })); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit thread samples: %w", err)
	}

	d.logger.Debug().
		Str("agent_jvm", jvm.String()).
		Int("samples", len(samples)).
		Int("distinct", len(metaRows)).
		Msg("Stored thread samples")
	return nil
}

// IngestFlows deduplicates and stores a batch of raw flow samples.
func (d *Database) IngestFlows(ctx context.Context, jvm model.AgentJVM, samples []aggregate.RawFlowSample) error {
	if err := jvm.Validate(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	interner := aggregate.NewInterner()
	occurrences := make([]*flowOccurrenceRow, 0, len(samples))
	for _, s := range samples {
		occ := interner.InternFlow(s)
		occurrences = append(occurrences, &flowOccurrenceRow{
			JVM:        jvm.String(),
			Timestamp:  occ.Timestamp.UTC(),
			MetadataID: occ.MetadataID,
			DumpID:     occ.DumpID,
			Count:      occ.Count,
		})
	}

	flows := interner.Flows()
	metaRows := make([]*flowMetadataRow, 0, len(flows))
	for _, id := range sortedKeys(flows) {
		f := flows[id]
		metaRows = append(metaRows, &flowMetadataRow{
			JVM:          jvm.String(),
			ID:           f.ID,
			CallerClass:  f.Caller.ClassName,
			CallerMethod: f.Caller.MethodName,
			CalleeClass:  f.Callee.ClassName,
			CalleeMethod: f.Callee.MethodName,
		})
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	if err := d.flowMeta.With(tx).BatchUpsert(ctx, metaRows); err != nil {
		return err
	}
	if err := d.flowOccs.With(tx).BatchUpsert(ctx, occurrences); err != nil {
		return err
	}
	if err := d.touchJVM(ctx, tx, jvm, latest(occurrences, func(r *flowOccurrenceRow) time.Time { return r.Timestamp })); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow samples: %w", err)
	}
	return nil
}

// FetchThreads returns the thread occurrences of [from, to) and the
// metadata they reference.
func (d *Database) FetchThreads(ctx context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.ThreadMetadata, []model.ThreadOccurrence, error) {
	rows, err := d.threadOccs.Find(ctx, d.threadOccs.Query().
		Eq("jvm", jvm.String()).
		Window("timestamp", from, to).
		OrderBy("timestamp", "dump_id", "metadata_id"))
	if err != nil {
		return nil, nil, err
	}

	occurrences := make([]model.ThreadOccurrence, 0, len(rows))
	ids := make(map[string]struct{})
	for _, r := range rows {
		occurrences = append(occurrences, model.ThreadOccurrence{
			Timestamp:  r.Timestamp.UTC(),
			MetadataID: r.MetadataID,
			DumpID:     r.DumpID,
			Count:      r.Count,
		})
		ids[r.MetadataID] = struct{}{}
	}

	meta, err := d.loadThreadMetadata(ctx, jvm, mapKeys(ids))
	if err != nil {
		return nil, nil, err
	}
	return meta, occurrences, nil
}

// FetchFlows returns the flow occurrences of [from, to) and the metadata
// they reference.
func (d *Database) FetchFlows(ctx context.Context, jvm model.AgentJVM, from, to time.Time) (map[string]model.FlowMetadata, []model.FlowOccurrence, error) {
	rows, err := d.flowOccs.Find(ctx, d.flowOccs.Query().
		Eq("jvm", jvm.String()).
		Window("timestamp", from, to).
		OrderBy("timestamp", "dump_id", "metadata_id"))
	if err != nil {
		return nil, nil, err
	}

	occurrences := make([]model.FlowOccurrence, 0, len(rows))
	ids := make(map[string]struct{})
	for _, r := range rows {
		occurrences = append(occurrences, model.FlowOccurrence{
			Timestamp:  r.Timestamp.UTC(),
			MetadataID: r.MetadataID,
			DumpID:     r.DumpID,
			Count:      r.Count,
		})
		ids[r.MetadataID] = struct{}{}
	}

	meta := make(map[string]model.FlowMetadata, len(ids))
	for _, chunk := range chunks(mapKeys(ids), inListChunk) {
		metaRows, err := d.flowMeta.Find(ctx, d.flowMeta.Query().
			Eq("jvm", jvm.String()).
			In("id", chunk...))
		if err != nil {
			return nil, nil, err
		}
		for _, r := range metaRows {
			meta[r.ID] = model.FlowMetadata{
				ID:     r.ID,
				Caller: model.MethodRef{ClassName: r.CallerClass, MethodName: r.CallerMethod},
				Callee: model.MethodRef{ClassName: r.CalleeClass, MethodName: r.CalleeMethod},
			}
		}
	}
	return meta, occurrences, nil
}

// inListChunk bounds the number of placeholders per IN list.
const inListChunk = 500

func (d *Database) loadThreadMetadata(ctx context.Context, jvm model.AgentJVM, ids []string) (map[string]model.ThreadMetadata, error) {
	out := make(map[string]model.ThreadMetadata, len(ids))
	for _, chunk := range chunks(ids, inListChunk) {
		rows, err := d.threadMeta.Find(ctx, d.threadMeta.Query().
			Eq("jvm", jvm.String()).
			In("id", chunk...))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			meta := model.ThreadMetadata{ID: r.ID, ThreadName: r.ThreadName, State: r.State}
			if err := json.Unmarshal([]byte(r.Stack), &meta.Stack); err != nil {
				return nil, fmt.Errorf("failed to decode stack of thread %s: %w", r.ID, err)
			}
			out[r.ID] = meta
		}
	}
	return out, nil
}

func threadRow(jvm model.AgentJVM, meta model.ThreadMetadata) (*threadMetadataRow, error) {
	stack, err := json.Marshal(meta.Stack)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stack of thread %s: %w", meta.ID, err)
	}
	return &threadMetadataRow{
		JVM:        jvm.String(),
		ID:         meta.ID,
		ThreadName: meta.ThreadName,
		State:      meta.State,
		Stack:      string(stack),
	}, nil
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := mapKeys(m)
	sort.Strings(keys)
	return keys
}

func chunks(ids []string, size int) [][]any {
	var out [][]any
	for len(ids) > 0 {
		n := min(size, len(ids))
		chunk := make([]any, n)
		for i, id := range ids[:n] {
			chunk[i] = id
		}
		out = append(out, chunk)
		ids = ids[n:]
	}
	return out
}

func latest[T any](items []T, ts func(T) time.Time) time.Time {
	var newest time.Time
	for _, it := range items {
		if t := ts(it); t.After(newest) {
			newest = t
		}
	}
	return newest
}
