package events

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Handler is a function that handles an event.
type Handler func(Event)

// subscription represents a registered event handler.
type subscription struct {
	id        uint64
	eventType string
	handler   Handler
}

// DefaultHistorySize bounds the event history ring when no size is configured.
const DefaultHistorySize = 500

// DefaultMaxHops bounds correlation chains when no depth is configured.
const DefaultMaxHops = 8

// Bus is the in-process publish/subscribe hub.
//
// Handlers for one published event run concurrently with respect to each
// other; Publish returns once all of them have finished or failed. Handler
// panics are recovered and logged so one misbehaving subscriber can never
// block delivery to, or corrupt, any other subscriber.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription
	nextID        atomic.Uint64

	historyMu   sync.Mutex
	history     []Event
	historySize int

	maxHops int
	logger  *log.Logger
}

// BusOpts contains configuration options for creating a Bus.
type BusOpts struct {
	HistorySize int
	MaxHops     int
	Logger      *log.Logger
}

// NewBus creates a new event bus with a bounded history ring.
func NewBus(opts BusOpts) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Bus{
		subscriptions: make(map[string][]subscription),
		history:       make([]Event, 0, opts.HistorySize),
		historySize:   opts.HistorySize,
		maxHops:       opts.MaxHops,
		logger:        opts.Logger,
	}
}

// Subscribe registers a handler for a specific event type. Duplicate
// registration is allowed and registration order is preserved.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) uint64 {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish appends the event to the history ring and dispatches it to every
// matching handler concurrently, waiting for all of them to finish. Handler
// outcomes never propagate to the caller.
//
// Events whose hop count exceeds the configured maximum are dropped (and
// logged) to break cyclic publish chains.
func (b *Bus) Publish(event Event) {
	if event.Metadata.Hops > b.maxHops {
		b.logger.Warn("dropping event: correlation chain too deep",
			"type", event.Type, "correlation_id", event.Metadata.CorrelationID, "hops", event.Metadata.Hops)
		return
	}

	b.appendHistory(event)

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscriptions[event.Type])+len(b.subscriptions["*"]))
	for _, sub := range b.subscriptions[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range b.subscriptions["*"] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			b.safeCall(h, event)
		}(handler)
	}
	wg.Wait()
}

// safeCall invokes a handler and recovers from panics, logging them with a
// stack trace for debugging.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"type", event.Type, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// appendHistory adds an event to the bounded ring, evicting the oldest entry
// when full.
func (b *Bus) appendHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if len(b.history) >= b.historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, event)
}

// History returns retained events most-recent-first, optionally filtered by
// type. A limit <= 0 returns all retained matches. Purely observational.
func (b *Bus) History(eventType string, limit int) []Event {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	var out []Event
	for i := len(b.history) - 1; i >= 0; i-- {
		if eventType != "" && b.history[i].Type != eventType {
			continue
		}
		out = append(out, b.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
