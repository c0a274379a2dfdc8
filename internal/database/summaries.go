package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jvmscope/jvmscope/internal/model"
)

// StoreFlowSummary persists the summary of one cycle. Re-storing the same
// window of the same JVM replaces the earlier row.
func (d *Database) StoreFlowSummary(ctx context.Context, summary *model.FlowSummary) error {
	if summary == nil {
		return fmt.Errorf("nil flow summary")
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode flow summary: %w", err)
	}
	row := &summaryRow{
		ID:         summaryID(summary.AgentJVM, summary.From, summary.To),
		JVM:        summary.AgentJVM.String(),
		WindowFrom: summary.From.UTC(),
		WindowTo:   summary.To.UTC(),
		FlowCount:  summary.FlowCount(),
		Summary:    string(encoded),
		CreatedAt:  d.now(),
	}
	if err := d.summaryRows.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to store flow summary: %w", err)
	}
	return nil
}

// QueryFlowSummaries returns the summaries of jvm whose window ends in
// (from, to], oldest first. Zero bounds are open; limit 0 means all.
func (d *Database) QueryFlowSummaries(ctx context.Context, jvm model.AgentJVM, from, to time.Time, limit int) ([]*model.FlowSummary, error) {
	q := d.summaryRows.Query().Eq("jvm", jvm.String())
	if !from.IsZero() {
		q.Where("window_to > ?", from.UTC())
	}
	if !to.IsZero() {
		q.Where("window_to <= ?", to.UTC())
	}
	rows, err := d.summaryRows.Find(ctx, q.OrderBy("window_to").Limit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]*model.FlowSummary, 0, len(rows))
	for _, r := range rows {
		var s model.FlowSummary
		if err := json.Unmarshal([]byte(r.Summary), &s); err != nil {
			return nil, fmt.Errorf("failed to decode flow summary %s: %w", r.ID, err)
		}
		out = append(out, &s)
	}
	return out, nil
}

// LatestFlowSummary returns the most recent summary of jvm, or nil.
func (d *Database) LatestFlowSummary(ctx context.Context, jvm model.AgentJVM) (*model.FlowSummary, error) {
	rows, err := d.summaryRows.Find(ctx, d.summaryRows.Query().
		Eq("jvm", jvm.String()).
		OrderBy("-window_to").
		Limit(1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	var s model.FlowSummary
	if err := json.Unmarshal([]byte(rows[0].Summary), &s); err != nil {
		return nil, fmt.Errorf("failed to decode flow summary %s: %w", rows[0].ID, err)
	}
	return &s, nil
}

func summaryID(jvm model.AgentJVM, from, to time.Time) string {
	return fmt.Sprintf("%s@%d-%d", jvm, from.UTC().UnixNano(), to.UTC().UnixNano())
}
