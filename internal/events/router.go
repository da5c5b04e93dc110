package events

import (
	"sync"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Subscriber is a consumer of realtime events, keyed by a stable ID.
// Deliver must not block indefinitely; a failing subscriber is logged
// and skipped, never retried.
type Subscriber interface {
	ID() string
	Deliver(ev zk.RealtimeEvent) error
}

// Router is the per-device subscriber registry.
//
// Thread Safety: all methods are safe for concurrent use. One registry
// lock covers every mutation and lookup; it is never held during
// delivery.
type Router struct {
	mu sync.Mutex
	// device address -> subscriber ID -> subscriber.
	// An address with an empty set is removed entirely, so the map's
	// keys are exactly the addresses with at least one subscriber.
	subs map[string]map[string]Subscriber

	logger Logger
}

// NewRouter creates an empty registry.
func NewRouter(logger Logger) *Router {
	return &Router{
		subs:   make(map[string]map[string]Subscriber),
		logger: logger,
	}
}

// Subscribe registers sub for events from device. Idempotent: a second
// subscribe to the same address is a no-op.
func (r *Router) Subscribe(sub Subscriber, device string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[device]
	if !ok {
		set = make(map[string]Subscriber)
		r.subs[device] = set
	}
	if _, exists := set[sub.ID()]; exists {
		return
	}
	set[sub.ID()] = sub
	r.logDebug("subscribed", "subscriber", sub.ID(), "device", device)
}

// Unsubscribe removes the pairing if present; no-op if absent.
func (r *Router) Unsubscribe(subID, device string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[device]
	if !ok {
		return
	}
	if _, exists := set[subID]; !exists {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(r.subs, device)
	}
	r.logDebug("unsubscribed", "subscriber", subID, "device", device)
}

// DropSubscriber removes subID from every device it was subscribed to,
// deleting any address entry left empty. Called once per subscriber
// disconnect; a severed subscriber must not leak a registry entry.
func (r *Router) DropSubscriber(subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for device, set := range r.subs {
		if _, exists := set[subID]; !exists {
			continue
		}
		delete(set, subID)
		if len(set) == 0 {
			delete(r.subs, device)
		}
	}
	r.logDebug("dropped subscriber", "subscriber", subID)
}

// Broadcast delivers ev to every subscriber of its device address. No
// subscribers means a silent drop. Delivery failures are isolated per
// subscriber.
func (r *Router) Broadcast(ev zk.RealtimeEvent) {
	r.mu.Lock()
	set, ok := r.subs[ev.Device]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Snapshot under the lock; deliver outside it so a slow subscriber
	// never blocks registry mutation.
	targets := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Deliver(ev); err != nil {
			r.logWarn("event delivery failed", "subscriber", sub.ID(), "device", ev.Device, "error", err)
		}
	}
}

// SubscriberCount returns how many subscribers device currently has.
func (r *Router) SubscriberCount(device string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[device])
}

// Devices returns the addresses that currently have subscribers.
func (r *Router) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.subs))
	for device := range r.subs {
		out = append(out, device)
	}
	return out
}

func (r *Router) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Router) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
