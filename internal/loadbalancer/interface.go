// Package loadbalancer orders generative providers for each call. The
// caller tries them in the returned order until one succeeds.
package loadbalancer

type Strategy interface {
	// Returns the targets in the order they should be tried
	Order(targets []string) []string

	// Returns the strategy name
	Name() string
}
