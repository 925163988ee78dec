package registry

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/soulmesh/soulmesh/internal/events"
)

// HealthCheck probes a module's liveness. A true result maps to ACTIVE, false
// to INACTIVE; an error or a timed-out probe maps to DEGRADED.
type HealthCheck func(ctx context.Context) (bool, error)

// DefaultHealthInterval is the monitor tick period when none is configured.
const DefaultHealthInterval = 60 * time.Second

// DefaultHealthTimeout bounds each individual probe.
const DefaultHealthTimeout = 10 * time.Second

// HealthMonitor periodically probes registered checks and caches the latest
// status per module. Until the first probe completes a module reports
// UNKNOWN, which the router treats as unusable.
type HealthMonitor struct {
	mu       sync.RWMutex
	checks   map[string]HealthCheck
	statuses map[string]ModuleStatus

	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
	bus      *events.Bus
}

// HealthMonitorOpts contains configuration options for creating a HealthMonitor.
type HealthMonitorOpts struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *log.Logger
	Bus      *events.Bus // optional; status transitions are published when set
}

// NewHealthMonitor creates a HealthMonitor with the provided options.
func NewHealthMonitor(opts HealthMonitorOpts) *HealthMonitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHealthInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHealthTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &HealthMonitor{
		checks:   make(map[string]HealthCheck),
		statuses: make(map[string]ModuleStatus),
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		bus:      opts.Bus,
	}
}

// RegisterCheck registers a module's health check. The module reports UNKNOWN
// until the first tick probes it.
func (m *HealthMonitor) RegisterCheck(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks[name] = check
	m.statuses[name] = StatusUnknown
}

// UnregisterCheck removes a module's check and cached status.
func (m *HealthMonitor) UnregisterCheck(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checks, name)
	delete(m.statuses, name)
}

// Status returns the cached status for a module, UNKNOWN when never probed.
func (m *HealthMonitor) Status(name string) ModuleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.statuses[name]; ok {
		return s
	}
	return StatusUnknown
}

// Statuses returns a snapshot of every module's cached status.
func (m *HealthMonitor) Statuses() map[string]ModuleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ModuleStatus, len(m.statuses))
	for name, s := range m.statuses {
		out[name] = s
	}
	return out
}

// Tick probes every registered check concurrently, each with its own timeout,
// and updates the cached statuses.
func (m *HealthMonitor) Tick(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	results := make(map[string]ModuleStatus, len(checks))
	var resultsMu sync.Mutex

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			status := m.probe(ctx, check)
			resultsMu.Lock()
			results[name] = status
			resultsMu.Unlock()
			return nil
		})
	}
	g.Wait()

	for name, status := range results {
		m.setStatus(name, status)
	}
}

// Run executes an immediate tick and then loops on the configured interval
// until the context is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// probe runs one check under the per-probe timeout. A probe that outlives its
// deadline yields DEGRADED rather than hanging the monitor loop.
func (m *HealthMonitor) probe(ctx context.Context, check HealthCheck) ModuleStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := check(ctx)
		done <- result{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		return StatusDegraded
	case res := <-done:
		if res.err != nil {
			return StatusDegraded
		}
		if !res.ok {
			return StatusInactive
		}
		return StatusActive
	}
}

// setStatus overwrites a module's cached status, logging and publishing the
// transition when it changed.
func (m *HealthMonitor) setStatus(name string, status ModuleStatus) {
	m.mu.Lock()
	previous, ok := m.statuses[name]
	if !ok {
		// check was unregistered while the probe was in flight
		m.mu.Unlock()
		return
	}
	m.statuses[name] = status
	m.mu.Unlock()

	if previous == status {
		return
	}

	m.logger.Info("module status changed", "module", name, "from", previous, "to", status)
	if m.bus != nil {
		m.bus.Publish(events.New(events.TypeModuleStatusChanged, "health", events.ModuleStatusChangedPayload{
			Module: name,
			Status: string(status),
		}))
	}
}
