package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/analysis/duration"
	"github.com/jvmscope/jvmscope/internal/analysis/instrument"
	"github.com/jvmscope/jvmscope/internal/analysis/step"
	"github.com/jvmscope/jvmscope/internal/model"
)

func TestRootCmd_Version(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "jvmscope version")
}

func TestRootCmd_RejectsBadJVM(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"state", "not-a-jvm"})

	assert.Error(t, root.Execute())
}

func TestNewReportRow(t *testing.T) {
	from := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := &step.Report{
		From: from,
		To:   from.Add(time.Minute),
		Plan: &instrument.Plan{Added: []model.MethodID{
			{ClassName: "com.acme.Svc", MethodName: "run", Signature: "()V"},
		}},
		Duration:         duration.Decision{Previous: 2, Next: 3},
		SnapshotAccepted: true,
	}

	row := newReportRow(report)
	assert.Equal(t, 1, row.NewMethods)
	assert.Equal(t, 3, row.Snapshot)
	assert.True(t, row.SnapshotSent)
	assert.Zero(t, row.Flows)
}

func TestNewReportRow_SkippedKeepsStateDuration(t *testing.T) {
	report := &step.Report{
		Skipped: true,
		State:   &model.AnalysisState{SnapshotDuration: 4},
	}

	assert.Equal(t, 4, newReportRow(report).Snapshot)
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "1 method", pluralize(1, "method"))
	assert.Equal(t, "3 methods", pluralize(3, "method"))
	assert.Equal(t, "2 classes", pluralize(2, "class"))
}
