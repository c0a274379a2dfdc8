// Package window provides time-bucketed stores with a fixed retention
// horizon. Entries older than the horizon are evicted lazily on write; there
// is no background sweep.
package window

import (
	"errors"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// ErrInvalidRange is returned when a range query has from after to.
var ErrInvalidRange = errors.New("window: invalid range")

// Entry is a retained value and its timestamp.
type Entry[V any] struct {
	Timestamp time.Time
	Value     V
}

type options struct {
	now func() time.Time
}

// Option configures a window.
type Option func(*options)

// WithClock overrides the clock used to compute the eviction cutoff.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// TimeWindow is an ordered map from timestamp to value that retains entries
// for a fixed horizon. A single timestamp holds one value; Put on an
// existing timestamp replaces it.
//
// TimeWindow is safe for concurrent use. Writers are mutually exclusive with
// each other and with readers.
type TimeWindow[V any] struct {
	mu      sync.RWMutex
	horizon time.Duration
	now     func() time.Time
	entries btree.Map[int64, V]
	evicted uint64
}

// NewTimeWindow creates a window retaining entries for horizon.
func NewTimeWindow[V any](horizon time.Duration, opts ...Option) *TimeWindow[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TimeWindow[V]{
		horizon: horizon,
		now:     o.now,
	}
}

// Horizon returns the retention horizon.
func (w *TimeWindow[V]) Horizon() time.Duration {
	return w.horizon
}

// Put stores value at ts and evicts entries older than now minus the horizon.
func (w *TimeWindow[V]) Put(ts time.Time, value V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries.Set(ts.UnixNano(), value)
	w.evictLocked()
}

// Update replaces the value at ts with fn(old, found) and evicts expired
// entries. fn runs under the write lock and must not call back into w.
func (w *TimeWindow[V]) Update(ts time.Time, fn func(old V, found bool) V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := ts.UnixNano()
	old, found := w.entries.Get(key)
	w.entries.Set(key, fn(old, found))
	w.evictLocked()
}

func (w *TimeWindow[V]) evictLocked() {
	cutoff := w.now().Add(-w.horizon).UnixNano()
	for {
		key, _, ok := w.entries.Min()
		if !ok || key >= cutoff {
			return
		}
		w.entries.Delete(key)
		w.evicted++
	}
}

// Evicted returns how many entries have expired since the window was
// created. Callers compare two readings to learn whether a write evicted.
func (w *TimeWindow[V]) Evicted() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.evicted
}

// Len returns the number of retained entries.
func (w *TimeWindow[V]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entries.Len()
}

// Recent returns every retained entry in timestamp order.
func (w *TimeWindow[V]) Recent() []Entry[V] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Entry[V], 0, w.entries.Len())
	w.entries.Scan(func(key int64, value V) bool {
		out = append(out, Entry[V]{Timestamp: time.Unix(0, key).UTC(), Value: value})
		return true
	})
	return out
}

// Values returns the retained entries with from <= timestamp < to, in order.
func (w *TimeWindow[V]) Values(from, to time.Time) ([]Entry[V], error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	end := to.UnixNano()
	var out []Entry[V]
	w.entries.Ascend(from.UnixNano(), func(key int64, value V) bool {
		if key >= end {
			return false
		}
		out = append(out, Entry[V]{Timestamp: time.Unix(0, key).UTC(), Value: value})
		return true
	})
	return out, nil
}

// Latest returns the newest entry at or before ts.
func (w *TimeWindow[V]) Latest(ts time.Time) (Entry[V], bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var (
		out   Entry[V]
		found bool
	)
	w.entries.Descend(ts.UnixNano(), func(key int64, value V) bool {
		out = Entry[V]{Timestamp: time.Unix(0, key).UTC(), Value: value}
		found = true
		return false
	})
	return out, found
}

// Newest returns the newest entry that is still within the horizon. Unlike
// Recent it ignores expired entries a missing write has not evicted yet.
func (w *TimeWindow[V]) Newest() (Entry[V], bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	key, value, ok := w.entries.Max()
	if !ok || key < w.now().Add(-w.horizon).UnixNano() {
		return Entry[V]{}, false
	}
	return Entry[V]{Timestamp: time.Unix(0, key).UTC(), Value: value}, true
}
