package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// Router routes operation requests to the best available provider.
//
// Candidates are tried in priority order; the first success wins, so exactly
// one active provider services a given request. When no active provider
// exists the router warns once per operation (until the registry changes) and
// fails with [shared.ErrModuleNotAvailable].
type Router struct {
	registry *Registry
	health   *HealthMonitor
	logger   *log.Logger

	warnMu        sync.Mutex
	warned        map[string]bool
	warnedVersion uint64
}

// NewRouter creates a Router over the given registry and health monitor.
func NewRouter(reg *Registry, health *HealthMonitor, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		registry: reg,
		health:   health,
		logger:   logger,
		warned:   make(map[string]bool),
	}
}

// Route executes the operation named by params against the highest-priority
// active provider, falling back through remaining candidates on handler
// errors when fallbackAllowed is set. Candidate invocations inherit ctx, so
// the caller's timeout and cancellation bound every attempt.
func (r *Router) Route(ctx context.Context, params models.Params, fallbackAllowed bool) (any, error) {
	operation := params.Operation()

	candidates := r.registry.CapableModules(operation, true, r.health.Status)
	if len(candidates) == 0 {
		r.warnUnavailable(operation)
		return nil, fmt.Errorf("%w: %s", shared.ErrModuleNotAvailable, operation)
	}

	var lastErr error
	for _, candidate := range candidates {
		if missing := r.missingRequirements(candidate); missing != "" {
			// not counted as a failed attempt
			r.logger.Debug("skipping capability: required modules not active",
				"operation", operation, "provider", candidate.Provider, "missing", missing)
			continue
		}

		result, err := candidate.Handler(ctx, params)
		if err == nil {
			return result, nil
		}

		if !fallbackAllowed {
			return nil, fmt.Errorf("%s failed %s: %w", candidate.Provider, operation, err)
		}

		r.logger.Warn("capability handler failed, trying next candidate",
			"operation", operation, "provider", candidate.Provider, "err", err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: last error: %v", shared.ErrModuleOperation, operation, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrModuleNotAvailable, operation)
}

// missingRequirements returns a comma-separated list of required modules that
// are not currently active, empty when the capability is usable.
func (r *Router) missingRequirements(c Capability) string {
	var missing []string
	for _, name := range c.RequiredModules {
		if r.health.Status(name) != StatusActive {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ", ")
}

// warnUnavailable emits one warning per operation describing which modules
// could provide it and their current status. The seen-set resets whenever the
// registry changes so a fixed deployment surfaces the condition again.
func (r *Router) warnUnavailable(operation string) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()

	if version := r.registry.Version(); version != r.warnedVersion {
		r.warned = make(map[string]bool)
		r.warnedVersion = version
	}
	if r.warned[operation] {
		return
	}
	r.warned[operation] = true

	all := r.registry.CapableModules(operation, false, nil)
	if len(all) == 0 {
		r.logger.Warn("no module provides operation; register a module with this capability",
			"operation", operation)
		return
	}

	providers := make([]string, 0, len(all))
	for _, c := range all {
		providers = append(providers, fmt.Sprintf("%s (%s)", c.Provider, r.health.Status(c.Provider)))
	}
	r.logger.Warn("operation unavailable: no provider is active; enable or start the listed modules",
		"operation", operation, "providers", strings.Join(providers, ", "))
}
