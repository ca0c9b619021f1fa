package bucket

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock replaces Bucket.now so window arithmetic is exact and the
// tests never sleep.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBucket(limit Limit) (*Bucket, *fakeClock) {
	b := New(limit)
	clock := newFakeClock()
	b.now = clock.now
	return b, clock
}

func TestLimitDurationUnknownID(t *testing.T) {
	b, _ := newTestBucket(NewLimit(time.Second, 1))

	wait, limited := b.LimitDuration(123)
	require.False(t, limited)
	require.Zero(t, wait)
}

func TestSingleUseWindow(t *testing.T) {
	b, clock := newTestBucket(NewLimit(2*time.Second, 1))
	const id = 123

	_, limited := b.LimitDuration(id)
	require.False(t, limited)

	b.Register(id)
	wait, limited := b.LimitDuration(id)
	require.True(t, limited)
	assert.Equal(t, 2*time.Second, wait)

	clock.advance(2 * time.Second)
	_, limited = b.LimitDuration(id)
	require.False(t, limited)
}

func TestFiveUsesInWindow(t *testing.T) {
	b, clock := newTestBucket(NewLimit(5*time.Second, 5))
	const id = 123

	for i := 0; i < 5; i++ {
		_, limited := b.LimitDuration(id)
		require.False(t, limited, "use %d should not be limited", i+1)
		b.Register(id)
	}

	wait, limited := b.LimitDuration(id)
	require.True(t, limited)
	assert.Equal(t, 5*time.Second, wait)

	clock.advance(5 * time.Second)
	_, limited = b.LimitDuration(id)
	require.False(t, limited)
}

func TestRegisterResetsExpiredWindow(t *testing.T) {
	b, clock := newTestBucket(NewLimit(time.Second, 2))
	const id = 42

	b.Register(id)
	b.Register(id)
	_, limited := b.LimitDuration(id)
	require.True(t, limited)

	// Strictly greater than the window is required for the reset.
	clock.advance(time.Second)
	_, limited = b.LimitDuration(id)
	require.False(t, limited, "fully elapsed window should not be limited")

	clock.advance(time.Nanosecond)
	b.Register(id)
	require.Equal(t, uint16(1), b.table.shard(id).usages[id].count)

	// Budget is fresh again: one more use fits.
	_, limited = b.LimitDuration(id)
	require.False(t, limited)
	b.Register(id)
	_, limited = b.LimitDuration(id)
	require.True(t, limited)
}

func TestLimitDurationIsIdempotent(t *testing.T) {
	b, _ := newTestBucket(NewLimit(time.Minute, 1))
	const id = 7

	b.Register(id)

	first, limited := b.LimitDuration(id)
	require.True(t, limited)
	for i := 0; i < 10; i++ {
		wait, limited := b.LimitDuration(id)
		require.True(t, limited)
		assert.Equal(t, first, wait)
	}
	assert.Equal(t, uint16(1), b.table.shard(id).usages[id].count)
}

func TestRemainingDurationDecreases(t *testing.T) {
	b, clock := newTestBucket(NewLimit(10*time.Second, 1))
	const id = 9

	b.Register(id)
	prev, limited := b.LimitDuration(id)
	require.True(t, limited)

	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		wait, limited := b.LimitDuration(id)
		require.True(t, limited)
		assert.Less(t, wait, prev)
		prev = wait
	}
	assert.Equal(t, 5*time.Second, prev)
}

func TestZeroIdentifierPanics(t *testing.T) {
	b, _ := newTestBucket(NewLimit(time.Second, 1))

	require.Panics(t, func() { b.Register(0) })
	require.Panics(t, func() { b.LimitDuration(0) })
}

func TestCountOverflowPanics(t *testing.T) {
	b, _ := newTestBucket(NewLimit(time.Hour, 1))
	const id, other = 5, 6

	b.Register(other)
	for i := 0; i < math.MaxUint16; i++ {
		b.Register(id)
	}
	require.Panics(t, func() { b.Register(id) })

	// The failure is local to the saturated identifier.
	require.Equal(t, uint16(math.MaxUint16), b.table.shard(id).usages[id].count)
	require.Equal(t, uint16(1), b.table.shard(other).usages[other].count)
	b.Register(other)
}

func TestZeroCountLimit(t *testing.T) {
	b, clock := newTestBucket(NewLimit(time.Second, 0))
	const id = 3

	// Never registered: not limited even with a zero budget.
	_, limited := b.LimitDuration(id)
	require.False(t, limited)

	b.Register(id)
	wait, limited := b.LimitDuration(id)
	require.True(t, limited)
	assert.Equal(t, time.Second, wait)

	clock.advance(time.Second)
	_, limited = b.LimitDuration(id)
	require.False(t, limited)
}

func TestZeroWindow(t *testing.T) {
	b, clock := newTestBucket(NewLimit(0, 1))
	const id = 11

	b.Register(id)
	_, limited := b.LimitDuration(id)
	require.False(t, limited)

	clock.advance(time.Nanosecond)
	b.Register(id)
	assert.Equal(t, uint16(1), b.table.shard(id).usages[id].count)
}

func TestConcurrentRegisterSameID(t *testing.T) {
	b := New(NewLimit(time.Minute, 100))
	const id = 777
	const k = 100

	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func() {
			defer wg.Done()
			b.Register(id)
		}()
	}
	wg.Wait()

	require.Equal(t, uint16(k), b.table.shard(id).usages[id].count, "lost update")
	_, limited := b.LimitDuration(id)
	require.True(t, limited)
}

func TestConcurrentDistinctIDs(t *testing.T) {
	b := New(NewLimit(time.Minute, 1))
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 1; i <= n; i++ {
		go func(id uint64) {
			defer wg.Done()
			b.Register(id)
		}(uint64(i))
	}
	wg.Wait()

	require.Equal(t, n, b.Len())
	for id := uint64(1); id <= n; id++ {
		require.Equal(t, uint16(1), b.table.shard(id).usages[id].count, "id %d corrupted", id)
		_, limited := b.LimitDuration(id)
		require.True(t, limited)
	}
}

func TestSweep(t *testing.T) {
	b, clock := newTestBucket(NewLimit(time.Second, 1))

	b.Register(1)
	b.Register(2)
	clock.advance(10 * time.Second)
	b.Register(3)

	require.Equal(t, 3, b.Len())
	require.Equal(t, 2, b.Sweep(5*time.Second))
	require.Equal(t, 1, b.Len())

	// Swept identifiers read as never seen.
	_, limited := b.LimitDuration(1)
	require.False(t, limited)
	wait, limited := b.LimitDuration(3)
	require.True(t, limited)
	assert.Equal(t, time.Second, wait)
}

func TestLimitAccessors(t *testing.T) {
	l := NewLimit(30*time.Second, 5)
	assert.Equal(t, 30*time.Second, l.Window())
	assert.Equal(t, uint16(5), l.Count())

	b := New(l)
	assert.Equal(t, l, b.Limit())
}
