package loadbalancer

import "fmt"

// Creates a strategy based on name
func NewStrategy(strategyName string) (Strategy, error) {
	switch strategyName {
	case "failover", "priority", "":
		return NewPriority(), nil
	case "round-robin", "round_robin":
		return NewRoundRobin(), nil
	case "least-pending", "least_pending":
		return NewLeastPending(), nil
	default:
		return nil, fmt.Errorf("unknown provider strategy: %s", strategyName)
	}
}
