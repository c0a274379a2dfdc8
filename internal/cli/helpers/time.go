package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange is a query range. A zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TimeFlags holds the raw time range flags.
type TimeFlags struct {
	Since string
	From  string
	To    string
}

// AddFlags registers --since, --from and --to.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet, defaultSince string) {
	flags.StringVar(&f.Since, "since", defaultSince, "Look back this far from now (e.g. 5m, 1h); empty for no lower bound")
	flags.StringVar(&f.From, "from", "", "Start time (RFC3339 or 'now'); overrides --since")
	flags.StringVar(&f.To, "to", "", "End time (RFC3339 or 'now')")
}

// Parse resolves the flags against now. --from wins over --since.
func (f *TimeFlags) Parse(now time.Time) (TimeRange, error) {
	var r TimeRange

	switch {
	case f.From != "":
		start, err := ParseTime(f.From, now)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --from time: %w", err)
		}
		r.Start = start
	case f.Since != "":
		d, err := time.ParseDuration(f.Since)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --since duration: %w", err)
		}
		r.Start = now.Add(-d)
	}

	if f.To != "" {
		end, err := ParseTime(f.To, now)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --to time: %w", err)
		}
		r.End = end
	}

	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return TimeRange{}, fmt.Errorf("end time cannot be before start time")
	}
	return r, nil
}

// ParseTime accepts "now", RFC3339 and a few shorter layouts, in UTC.
func ParseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q (use RFC3339)", s)
}
