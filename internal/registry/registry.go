// package registry implements module lookup, capability routing and health tracking.
//
// Modules register themselves by name for direct synchronous queries and claim
// named operations (capabilities) with a priority and a typed handler. The
// router composes the capability table with cached health status to pick the
// best available provider for each request, falling back in priority order.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/shared"
)

// ModuleStatus is the cached liveness state of a registered module.
type ModuleStatus string

const (
	StatusActive   ModuleStatus = "active"
	StatusInactive ModuleStatus = "inactive"
	StatusDegraded ModuleStatus = "degraded"
	StatusUnknown  ModuleStatus = "unknown"
)

// Module is implemented by every registrable service module.
type Module interface {
	Name() string
}

// Handler executes one operation with its typed parameters. Handlers are
// bound at capability-registration time; there is no reflective dispatch.
type Handler func(ctx context.Context, params models.Params) (any, error)

// Capability is a module's claim to provide an operation.
// Immutable after registration; removed when the module unregisters.
type Capability struct {
	Operation       string
	Provider        string
	Priority        int
	RequiredModules []string
	Handler         Handler
}

// Registry is the name→module and operation→capability lookup table.
// Reads vastly outnumber writes (writes happen only at (un)registration),
// so both maps sit behind one RW mutex.
type Registry struct {
	mu           sync.RWMutex
	modules      map[string]Module
	capabilities map[string][]Capability
	version      atomic.Uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		modules:      make(map[string]Module),
		capabilities: make(map[string][]Capability),
	}
}

// RegisterModule adds a module under its name, replacing any previous
// registration for that name.
func (r *Registry) RegisterModule(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules[m.Name()] = m
	r.version.Add(1)
}

// Module returns the module registered under name.
func (r *Registry) Module(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrModuleNotFound, name)
	}
	return m, nil
}

// UnregisterModule removes a module and every capability it provides.
func (r *Registry) UnregisterModule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.modules, name)
	for op, caps := range r.capabilities {
		kept := caps[:0]
		for _, c := range caps {
			if c.Provider != name {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(r.capabilities, op)
		} else {
			r.capabilities[op] = kept
		}
	}
	r.version.Add(1)
}

// RegisterCapability records that provider claims operation with the given
// priority and handler. Required modules must all be active for the router to
// select this capability. The per-operation list stays sorted by descending
// priority; equal priorities keep registration order.
func (r *Registry) RegisterCapability(operation, provider string, priority int, required []string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: %s has no handler for %s", shared.ErrOperationNotSupported, provider, operation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[provider]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrModuleNotFound, provider)
	}

	caps := append(r.capabilities[operation], Capability{
		Operation:       operation,
		Provider:        provider,
		Priority:        priority,
		RequiredModules: required,
		Handler:         handler,
	})
	sort.SliceStable(caps, func(i, j int) bool {
		return caps[i].Priority > caps[j].Priority
	})
	r.capabilities[operation] = caps
	r.version.Add(1)
	return nil
}

// StatusFunc reports the cached health status for a module name.
type StatusFunc func(name string) ModuleStatus

// CapableModules returns the capabilities claiming operation in priority
// order. With onlyActive set, candidates whose provider is not ACTIVE
// (including never-probed UNKNOWN modules, which fail closed) are filtered out.
func (r *Registry) CapableModules(operation string, onlyActive bool, status StatusFunc) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := r.capabilities[operation]
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if onlyActive && status != nil && status(c.Provider) != StatusActive {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Operations returns every operation with at least one registered capability.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]string, 0, len(r.capabilities))
	for op := range r.capabilities {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// ModuleNames returns the names of all registered modules, sorted.
func (r *Registry) ModuleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version increments on every registry mutation. The router uses it to reset
// its deduplicated-warning state when the registry changes.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}
