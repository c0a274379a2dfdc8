package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeFlagsParse(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		flags   TimeFlags
		want    TimeRange
		wantErr bool
	}{
		{
			name:  "since",
			flags: TimeFlags{Since: "1h"},
			want:  TimeRange{Start: now.Add(-time.Hour)},
		},
		{
			name:  "open range",
			flags: TimeFlags{},
			want:  TimeRange{},
		},
		{
			name:  "from overrides since",
			flags: TimeFlags{Since: "1h", From: "2024-03-01T11:30:00Z", To: "now"},
			want:  TimeRange{Start: now.Add(-30 * time.Minute), End: now},
		},
		{
			name:  "date only",
			flags: TimeFlags{From: "2024-02-29"},
			want:  TimeRange{Start: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:    "end before start",
			flags:   TimeFlags{From: "now", To: "2024-01-01"},
			wantErr: true,
		},
		{
			name:    "bad duration",
			flags:   TimeFlags{Since: "yesterday"},
			wantErr: true,
		},
		{
			name:    "bad time",
			flags:   TimeFlags{To: "noon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.Parse(now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Start.Equal(got.Start), "start %s", got.Start)
			assert.True(t, tt.want.End.Equal(got.End), "end %s", got.End)
		})
	}
}
