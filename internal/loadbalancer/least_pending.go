package loadbalancer

import (
	"sort"
	"sync"
)

// LeastPending prefers the target with the fewest calls in flight. Callers
// report calls with Acquire and Release.
type LeastPending struct {
	mu      sync.RWMutex
	pending map[string]int
}

func NewLeastPending() *LeastPending {
	return &LeastPending{
		pending: make(map[string]int),
	}
}

// Returns targets by pending calls, ties in configured order
func (l *LeastPending) Order(targets []string) []string {
	out := append([]string(nil), targets...)

	l.mu.RLock()
	defer l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return l.pending[out[i]] < l.pending[out[j]]
	})
	return out
}

func (l *LeastPending) Acquire(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[target]++
}

func (l *LeastPending) Release(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending[target] > 0 {
		l.pending[target]--
	}
}

func (l *LeastPending) Name() string {
	return "least_pending"
}
