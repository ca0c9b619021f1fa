// Package bucket implements a per-identifier usage limiter: at most
// Count uses of an identifier within a rolling Window.
//
// A Bucket stores only the latest usage time and a running count per
// identifier, so it is a fixed window with rolling reset rather than a
// true sliding log: up to 2×Count uses can land across a boundary
// straddling two windows. Memory and time per operation are O(1).
//
// Callers query before acting and register after deciding to act:
//
//	if wait, limited := b.LimitDuration(userID); limited {
//		// reject, or sleep for wait and retry
//	}
//	b.Register(userID)
//
// The query/register pair is not atomic across callers; a concurrent
// Register may interleave between them, so slight over-admission under
// contention is possible and accepted.
//
// Entries are never removed by the decision path. Long-running
// processes with many transient identifiers should call Sweep
// periodically.
package bucket

import (
	"math"
	"time"
)

// Limit describes how often something may be done: at most count uses
// per window.
//
// There is no validation: a zero window means queries never report
// limited, and a zero count means every registered identifier is
// reported limited for the remainder of each window. Both are
// degenerate but legal; whether they are errors is the caller's call.
type Limit struct {
	window time.Duration
	count  uint16
}

// NewLimit returns a Limit allowing count uses per window.
func NewLimit(window time.Duration, count uint16) Limit {
	return Limit{window: window, count: count}
}

// Window reports the size of the rolling window.
func (l Limit) Window() time.Duration { return l.window }

// Count reports how many uses are permitted within the window.
func (l Limit) Count() uint16 { return l.count }

// Bucket tracks usage per identifier against a single Limit. It is
// safe for concurrent use by any number of goroutines; operations on
// distinct identifiers do not block one another.
//
// Identifiers are opaque non-zero uint64 values; zero is reserved and
// passing it is a bug in the caller, punished with a panic.
type Bucket struct {
	limit Limit
	table table

	// now is swapped out in tests.
	now func() time.Time
}

// New returns a Bucket enforcing limit for its lifetime.
func New(limit Limit) *Bucket {
	b := &Bucket{limit: limit, now: time.Now}
	b.table.init()
	return b
}

// Limit returns the Limit this Bucket enforces.
func (b *Bucket) Limit() Limit { return b.limit }

// LimitDuration reports how long id must wait before its next use. The
// second result is false when id is not currently limited: either it
// was never registered, it has budget left in the window, or the
// window has fully elapsed (the next Register will reset the count).
//
// LimitDuration never mutates stored state, so it may be called
// repeatedly, e.g. from a retry loop. Call it before Register.
//
// Panics if id is zero.
func (b *Bucket) LimitDuration(id uint64) (time.Duration, bool) {
	s := b.table.shard(id)

	s.mu.RLock()
	u, ok := s.usages[id]
	var count uint16
	var last time.Time
	if ok {
		count = u.count
		last = u.last
	}
	s.mu.RUnlock()

	if !ok {
		return 0, false
	}
	elapsed := b.now().Sub(last)
	if count >= b.limit.count && b.limit.window > elapsed {
		return b.limit.window - elapsed, true
	}
	return 0, false
}

// Register records one use of id, now. Call it after LimitDuration has
// reported id not limited (or after waiting out the returned
// duration); Register itself never refuses.
//
// Registers on the same identifier are serialized and never lost;
// identifiers other than id are untouched.
//
// Panics if id is zero, or if the use count within a single window
// would exceed 65535 — wrapping silently would make a saturated
// identifier appear unlimited.
func (b *Bucket) Register(id uint64) {
	s := b.table.shard(id)
	now := b.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usages[id]
	switch {
	case !ok:
		s.usages[id] = &usage{last: now, count: 1}
		return
	case now.Sub(u.last) > b.limit.window:
		u.count = 1
	case u.count == math.MaxUint16:
		panic("bucket: usage count overflow")
	default:
		u.count++
	}
	u.last = now
}

// Len reports the number of identifiers currently tracked.
func (b *Bucket) Len() int {
	n := 0
	for i := range b.table.shards {
		s := &b.table.shards[i]
		s.mu.RLock()
		n += len(s.usages)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes every entry whose most recent use is older than
// retention and reports how many were removed. It is the optional
// eviction policy layered on top of the decision algorithm: the Bucket
// never sweeps on its own, the caller decides when and how often.
//
// A retention shorter than the Limit window can forget identifiers
// that are still limited; use a retention of at least the window.
func (b *Bucket) Sweep(retention time.Duration) int {
	now := b.now()
	removed := 0
	for i := range b.table.shards {
		s := &b.table.shards[i]
		s.mu.Lock()
		for id, u := range s.usages {
			if now.Sub(u.last) > retention {
				delete(s.usages, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
