package ratelimit

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const shardCount = 64

// MemoryStore keeps windows in a bounded, expiring LRU. Counters do not
// survive restarts and are not shared between instances.
type MemoryStore struct {
	shards   [shardCount]sync.Mutex
	counters *expirable.LRU[string, Counter]
	ttl      time.Duration
}

// NewMemoryStore holds at most size windows. Entries idle for ttl are
// dropped. A ttl shorter than Day is raised to Day so a daily window
// cannot expire before its end.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 100_000
	}
	if ttl <= 0 {
		ttl = 25 * time.Hour
	}
	ttl = max(ttl, Day)
	return &MemoryStore{
		counters: expirable.NewLRU[string, Counter](size, nil, ttl),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Consume(_ context.Context, checks []Check, now time.Time) (Verdict, error) {
	unlock := m.lock(checks)
	defer unlock()

	counters := make([]Counter, len(checks))
	for i, chk := range checks {
		c, ok := m.counters.Get(chk.Key)
		counters[i] = fresh(c, ok, chk.Window, now)
		if chk.Limit >= 0 && counters[i].Count >= chk.Limit {
			return Verdict{Allowed: false, Failed: i, Counters: counters}, nil
		}
	}

	for i, chk := range checks {
		counters[i].Count++
		m.counters.Add(chk.Key, counters[i])
	}
	return Verdict{Allowed: true, Failed: -1, Counters: counters}, nil
}

func (m *MemoryStore) Peek(_ context.Context, checks []Check, now time.Time) ([]Counter, error) {
	out := make([]Counter, len(checks))
	for i, chk := range checks {
		c, ok := m.counters.Peek(chk.Key)
		out[i] = fresh(c, ok, chk.Window, now)
	}
	return out, nil
}

// Len returns the number of live windows.
func (m *MemoryStore) Len() int {
	return m.counters.Len()
}

// lock takes the shard mutexes for every key in ascending shard order so two
// calls sharing keys cannot deadlock.
func (m *MemoryStore) lock(checks []Check) func() {
	idx := make([]int, 0, len(checks))
	seen := make(map[int]bool, len(checks))
	for _, chk := range checks {
		h := fnv.New32a()
		h.Write([]byte(chk.Key))
		s := int(h.Sum32() % shardCount)
		if !seen[s] {
			seen[s] = true
			idx = append(idx, s)
		}
	}
	sort.Ints(idx)

	for _, s := range idx {
		m.shards[s].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			m.shards[idx[i]].Unlock()
		}
	}
}
