// health.go - Health monitoring for the ledger daemon
package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"zolana/internal/chain"
	"zolana/internal/ledger"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Check probes one component. A non-nil error means unhealthy; otherwise the
// returned status and message are recorded as is.
type Check func() (HealthStatus, string, error)

// HealthChecker runs the registered checks on demand.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checks     map[string]Check
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checks:     make(map[string]Check),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	hc.checks[name] = check
}

// CheckHealth runs every check and reports components sorted by name.
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.components))
	for name := range hc.components {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		c := hc.components[name]
		start := time.Now()
		status, msg, err := hc.checks[name]()
		if err != nil {
			status, msg = Unhealthy, err.Error()
		}
		c.Status, c.Message = status, msg
		c.LastCheck = time.Now()
		c.Latency = time.Since(start)

		switch {
		case c.Status == Unhealthy:
			overall = Unhealthy
		case c.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		components = append(components, *c)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// HealthCheckResponse represents the response format for health check endpoints
type HealthCheckResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Data    *SystemHealth `json:"data,omitempty"`
}

// CreateHealthResponse creates a standardized health check response
func CreateHealthResponse(health *SystemHealth) *HealthCheckResponse {
	status, message := "success", "System is healthy"
	switch health.OverallStatus {
	case Unhealthy:
		status, message = "error", "System is unhealthy"
	case Degraded:
		status, message = "warning", "System is degraded"
	}
	return &HealthCheckResponse{Status: status, Message: message, Data: health}
}

// chainSource is the part of the ledger the chain check needs.
type chainSource interface {
	LatestBlock() *chain.Block
	VerifyChain() error
}

// chainCheck verifies the chain at most once per tip. Appended blocks are the
// only way the chain changes, so a result stays valid until the tip moves.
type chainCheck struct {
	src chainSource

	mu      sync.Mutex
	tip     string
	height  uint64
	lastErr error
	runs    int
}

func (c *chainCheck) check() (HealthStatus, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.src.LatestBlock()
	if c.runs == 0 || tip.Hash != c.tip {
		c.tip, c.height = tip.Hash, tip.Index
		c.lastErr = c.src.VerifyChain()
		c.runs++
	}
	if c.lastErr != nil {
		return Unhealthy, "", c.lastErr
	}
	return Healthy, fmt.Sprintf("height %d", c.height), nil
}

// registerLedgerChecks wires the chain, mempool and consensus probes.
func registerLedgerChecks(hc *HealthChecker, l *ledger.Ledger) {
	hc.RegisterComponent("chain", (&chainCheck{src: l}).check)
	hc.RegisterComponent("mempool", func() (HealthStatus, string, error) {
		s := l.MempoolStats()
		msg := fmt.Sprintf("%d/%d pending", s.Count, s.Capacity)
		if s.Utilization >= 0.9 {
			return Degraded, msg, nil
		}
		return Healthy, msg, nil
	})
	hc.RegisterComponent("consensus", func() (HealthStatus, string, error) {
		n := len(l.Validators())
		if n == 0 {
			return Degraded, "no validators registered, proof of stake unavailable", nil
		}
		return Healthy, fmt.Sprintf("%d validators, total stake %s", n, l.TotalStake()), nil
	})
}
