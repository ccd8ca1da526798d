package vpn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yllada/pvpn/common"
)

// HealthState represents the current health state of a tunnel.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often Run checks the tunnel.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// Timeout bounds each dial.
	Timeout time.Duration
	// TestHosts are dialed over TCP in order until one answers.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:    30 * time.Second,
		FailureThreshold: 3,
		Timeout:          5 * time.Second,
		TestHosts: []string{
			"1.1.1.1:53",        // Cloudflare DNS
			"8.8.8.8:53",        // Google DNS
			"208.67.222.222:53", // OpenDNS
		},
	}
}

// Health is the result of the latest checks.
type Health struct {
	State            HealthState
	LastCheck        time.Time
	LastSuccess      time.Time
	ConsecutiveFails int
	Latency          time.Duration
}

// HealthChecker checks connectivity through the tunnel. It reports state
// changes but never reconnects.
type HealthChecker struct {
	mu             sync.RWMutex
	config         HealthConfig
	dialer         net.Dialer
	health         Health
	onHealthChange func(oldState, newState HealthState)
}

// NewHealthChecker creates a health checker with config. A zero interval
// or timeout takes the value from DefaultHealthConfig.
func NewHealthChecker(config HealthConfig) *HealthChecker {
	defaults := DefaultHealthConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	return &HealthChecker{
		config: config,
		dialer: net.Dialer{Timeout: config.Timeout},
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// Health returns a copy of the current health.
func (hc *HealthChecker) Health() Health {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.health
}

// Run checks every CheckInterval until ctx is done.
func (hc *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

// Check runs one check and returns the updated health.
func (hc *HealthChecker) Check(ctx context.Context) Health {
	latency, err := hc.testConnectivity(ctx)

	hc.mu.Lock()
	health := &hc.health
	health.LastCheck = time.Now()
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		common.LogWarn("Health check failed (attempt %d/%d): %v",
			health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = health.LastCheck
		health.Latency = latency
		health.State = HealthHealthy
	}

	result := *health
	callback := hc.onHealthChange
	hc.mu.Unlock()

	if oldState != result.State {
		common.LogInfo("Health state changed: %s -> %s", oldState, result.State)
		if callback != nil {
			callback(oldState, result.State)
		}
	}
	return result
}

// testConnectivity dials each test host until one succeeds.
func (hc *HealthChecker) testConnectivity(ctx context.Context) (time.Duration, error) {
	for _, host := range hc.config.TestHosts {
		start := time.Now()
		conn, err := hc.dialer.DialContext(ctx, "tcp", host)
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
		common.LogDebug("Health check %s: %v", host, err)
	}

	return 0, common.ErrConnectionFailed
}
