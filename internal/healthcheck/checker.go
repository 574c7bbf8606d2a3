// Package healthcheck probes the process's dependencies in the background
// and reports their last known state.
package healthcheck

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Carrie-PLH/plus/internal/circuitbreaker"
	"go.uber.org/zap"
)

// Probe returns nil when the dependency is usable.
type Probe func(ctx context.Context) error

// Checks dependencies on an interval
type Checker struct {
	mu           sync.RWMutex
	probes       map[string]Probe
	names        []string
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	logger       *zap.Logger
	stopChan     chan struct{}
	done         chan struct{}
	running      bool
}

// Holds health checker configuration
type Config struct {
	Probes      map[string]Probe
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per-probe timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Logger      *zap.Logger
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	checker := &Checker{
		probes:       make(map[string]Probe, len(cfg.Probes)),
		healthStatus: make(map[string]*Status, len(cfg.Probes)),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		logger:       cfg.Logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	// Initialize status for all probes
	for name, probe := range cfg.Probes {
		checker.probes[name] = probe
		checker.names = append(checker.names, name)
		checker.healthStatus[name] = &Status{
			Name:      name,
			IsHealthy: true, // Assume healthy initially
			LastCheck: time.Now(),
		}
	}
	sort.Strings(checker.names)

	return checker
}

// Begins periodic checks after one immediate round
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting dependency checks", zap.Int("probes", len(c.names)), zap.Duration("interval", c.interval))

	c.CheckNow(context.Background())

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the checker and waits for the loop to exit
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stopChan)
	c.running = false
	c.mu.Unlock()

	<-c.done
	c.logger.Info("dependency checks stopped")
}

// CheckNow runs every probe concurrently and records the results.
func (c *Checker) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup

	for _, name := range c.names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			c.check(ctx, n)
		}(name)
	}

	wg.Wait()
}

func (c *Checker) check(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.probes[name](ctx); err != nil {
		c.recordFailure(name, err)
		return
	}
	c.recordSuccess(name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastSuccess = status.LastCheck
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.logger.Info("dependency recovered", zap.String("name", name))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastFailure = status.LastCheck
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy",
			zap.String("name", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err),
		)
		status.IsHealthy = false
	}
}

// Returns a copy of every probe's status
func (c *Checker) GetAllStatus() map[string]*Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]*Status, len(c.healthStatus))
	for name, status := range c.healthStatus {
		statusCopy := *status
		statusMap[name] = &statusCopy
	}

	return statusMap
}

// Returns the overall health. No probes means healthy.
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthy++
		}
	}

	switch {
	case healthy == len(c.healthStatus):
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}

// BreakerProbe fails while the circuit reports open.
func BreakerProbe(metrics func() circuitbreaker.Metrics) Probe {
	return func(context.Context) error {
		if metrics().State == circuitbreaker.StateOpen {
			return errors.New("circuit open")
		}
		return nil
	}
}
