package bucket

import (
	"sync"
	"time"
)

// shardCount must be a power of two; shardBits is its log2.
const (
	shardCount = 64
	shardBits  = 6
)

// usage is the per-identifier state: the most recent recorded use and
// how many uses landed in the current window. count stays in
// [1, 65535]; it is reset to 1, never to 0.
type usage struct {
	last  time.Time
	count uint16
}

type shard struct {
	mu     sync.RWMutex
	usages map[uint64]*usage
}

// table is the concurrent identifier→usage map. Locking is per shard,
// so operations on identifiers in different shards never contend, and
// a read-modify-write under one shard's write lock serializes all
// registers for the identifiers in it.
type table struct {
	shards [shardCount]shard
}

func (t *table) init() {
	for i := range t.shards {
		t.shards[i].usages = make(map[uint64]*usage)
	}
}

// shard picks the shard for id. Fibonacci hashing spreads sequential
// identifiers across shards instead of clustering them.
//
// Zero is not a valid identifier; rejecting it here covers every
// operation, since each one resolves its shard first.
func (t *table) shard(id uint64) *shard {
	if id == 0 {
		panic("bucket: identifier must be non-zero")
	}
	return &t.shards[(id*0x9E3779B97F4A7C15)>>(64-shardBits)]
}
