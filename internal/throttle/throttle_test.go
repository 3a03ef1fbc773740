package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(DefaultConfig())
	l.now = clock.Now
	return l, clock
}

func TestAcquireDropsRapidEvents(t *testing.T) {
	l, clock := newTestLimiter()

	release, ok := l.Acquire(1, "a")
	require.True(t, ok)
	release()

	clock.Advance(100 * time.Millisecond)
	_, ok = l.Acquire(1, "b")
	assert.False(t, ok, "event inside AnyInterval should be dropped")

	clock.Advance(300 * time.Millisecond)
	release, ok = l.Acquire(1, "b")
	require.True(t, ok)
	release()
}

func TestAcquireDropsDuplicates(t *testing.T) {
	l, clock := newTestLimiter()

	release, ok := l.Acquire(1, "offer:accept:7")
	require.True(t, ok)
	release()

	clock.Advance(time.Second)
	_, ok = l.Acquire(1, "offer:accept:7")
	assert.False(t, ok, "duplicate inside SameInterval should be dropped")

	clock.Advance(time.Second)
	release, ok = l.Acquire(1, "offer:accept:7")
	require.True(t, ok)
	release()
}

func TestAcquireIsPerUser(t *testing.T) {
	l, _ := newTestLimiter()

	r1, ok := l.Acquire(1, "x")
	require.True(t, ok)
	r2, ok := l.Acquire(2, "x")
	require.True(t, ok, "other users are not throttled")
	r1()
	r2()
}

func TestAcquireSerializesUser(t *testing.T) {
	l, clock := newTestLimiter()

	first, ok := l.Acquire(1, "m1")
	require.True(t, ok)

	clock.Advance(time.Second)
	acquired := make(chan func())
	go func() {
		second, ok := l.Acquire(1, "m2")
		if ok {
			acquired <- second
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second event ran while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	first()
	second, ok := <-acquired
	require.True(t, ok)
	second()
	second() // release is idempotent
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	l, clock := newTestLimiter()

	release, _ := l.Acquire(1, "a")
	release()
	busy, _ := l.Acquire(2, "a")

	clock.Advance(2 * time.Minute)
	removed := l.Sweep(time.Minute)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len(), "in-flight entry must survive the sweep")
	busy()

	assert.Equal(t, 1, l.Sweep(time.Minute))
	assert.Equal(t, 0, l.Len())
}
