package loadbalancer

// Priority always prefers targets in configured order.
type Priority struct{}

func NewPriority() *Priority {
	return &Priority{}
}

func (Priority) Order(targets []string) []string {
	return append([]string(nil), targets...)
}

func (Priority) Name() string {
	return "failover"
}
