package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTimeWindow_PutEvictsOnWrite(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[int](60*time.Second, WithClock(clock.Now))

	w.Put(base.Add(-90*time.Second), 1)
	assert.Equal(t, 0, w.Len(), "entry older than horizon is evicted immediately")

	w.Put(base.Add(-30*time.Second), 2)
	w.Put(base, 3)
	assert.Equal(t, 2, w.Len())

	// Time passes but nothing is evicted until the next write.
	clock.Advance(45 * time.Second)
	assert.Equal(t, 2, w.Len())

	w.Put(clock.Now(), 4)
	recent := w.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Value)
	assert.Equal(t, 4, recent[1].Value)
}

func TestTimeWindow_RecentIsOrdered(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[string](time.Minute, WithClock(clock.Now))

	w.Put(base.Add(-10*time.Second), "c")
	w.Put(base.Add(-50*time.Second), "a")
	w.Put(base.Add(-30*time.Second), "b")

	var got []string
	for _, e := range w.Recent() {
		got = append(got, e.Value)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTimeWindow_Values(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[int](time.Hour, WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		w.Put(base.Add(-time.Duration(5-i)*time.Minute), i)
	}

	got, err := w.Values(base.Add(-4*time.Minute), base.Add(-2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2, "range is half open")
	assert.Equal(t, 1, got[0].Value)
	assert.Equal(t, 2, got[1].Value)

	_, err = w.Values(base, base.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTimeWindow_UpdateAndLatest(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[[]string](time.Minute, WithClock(clock.Now))

	appendValue := func(v string) func([]string, bool) []string {
		return func(old []string, _ bool) []string { return append(old, v) }
	}
	w.Update(base.Add(-10*time.Second), appendValue("x"))
	w.Update(base.Add(-10*time.Second), appendValue("y"))
	w.Put(base.Add(-5*time.Second), []string{"z"})

	e, ok := w.Latest(base.Add(-6 * time.Second))
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, e.Value)

	_, ok = w.Latest(base.Add(-time.Hour))
	assert.False(t, ok)
}

func TestTimeWindow_NewestIgnoresExpired(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[string](time.Minute, WithClock(clock.Now))

	_, ok := w.Newest()
	assert.False(t, ok)

	w.Put(base.Add(-20*time.Second), "old")
	w.Put(base.Add(-10*time.Second), "new")
	e, ok := w.Newest()
	require.True(t, ok)
	assert.Equal(t, "new", e.Value)

	// No write, so nothing was evicted, but the entry is past the horizon.
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, w.Len())
	_, ok = w.Newest()
	assert.False(t, ok)
}

func TestTimeWindow_EvictedCounts(t *testing.T) {
	clock := &fakeClock{now: base}
	w := NewTimeWindow[int](time.Minute, WithClock(clock.Now))

	w.Put(base, 1)
	w.Put(base.Add(time.Second), 2)
	assert.Zero(t, w.Evicted())

	clock.Advance(time.Minute + 500*time.Millisecond)
	w.Put(clock.Now(), 3)
	assert.EqualValues(t, 1, w.Evicted())
	assert.Equal(t, 2, w.Len())
}

func TestTimeWindow_ConcurrentReaders(t *testing.T) {
	w := NewTimeWindow[int](time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			w.Put(now.Add(time.Duration(i)*time.Millisecond), i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = w.Recent()
		}
	}()
	wg.Wait()
	assert.Equal(t, 500, w.Len())
}
