package window

import "time"

// Neighborhood is a focal entry with the entries immediately around it.
// Previous and Next are both in ascending timestamp order and may be
// shorter than requested at the edges of the window.
type Neighborhood[V any] struct {
	Focal    Entry[V]
	Previous []Entry[V]
	Next     []Entry[V]
}

// SlidingWindow is a TimeWindow that can be scanned with a bounded
// look-back and look-ahead around every entry.
type SlidingWindow[V any] struct {
	*TimeWindow[V]
}

// NewSlidingWindow creates a sliding window retaining entries for horizon.
func NewSlidingWindow[V any](horizon time.Duration, opts ...Option) *SlidingWindow[V] {
	return &SlidingWindow[V]{TimeWindow: NewTimeWindow[V](horizon, opts...)}
}

// Scan visits every retained entry in ascending order as a focal point,
// passing up to maxPrev preceding and maxNext following entries. The
// entries are snapshotted under the read lock, so visit may be slow without
// blocking writers. Returning false from visit stops the scan.
func (w *SlidingWindow[V]) Scan(maxPrev, maxNext int, visit func(n Neighborhood[V]) bool) {
	if maxPrev < 0 {
		maxPrev = 0
	}
	if maxNext < 0 {
		maxNext = 0
	}

	entries := w.Recent()
	for i := range entries {
		lo := i - maxPrev
		if lo < 0 {
			lo = 0
		}
		hi := i + 1 + maxNext
		if hi > len(entries) {
			hi = len(entries)
		}
		n := Neighborhood[V]{
			Focal:    entries[i],
			Previous: entries[lo:i:i],
			Next:     entries[i+1 : hi : hi],
		}
		if !visit(n) {
			return
		}
	}
}
