package loadbalancer

import "sync"

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{current: 0}
}

// Rotates the starting target on every call; the rest follow in order
func (r *RoundRobin) Order(targets []string) []string {
	if len(targets) == 0 {
		return nil
	}

	r.mu.Lock()
	start := r.current % len(targets)
	r.current++
	r.mu.Unlock()

	out := make([]string, 0, len(targets))
	out = append(out, targets[start:]...)
	return append(out, targets[:start]...)
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}
