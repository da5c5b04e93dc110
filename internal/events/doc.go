// Package events fans realtime terminal events out to subscribers.
//
// The Router holds the per-device subscriber registry: device address to
// set of subscriber handles, mutated under one registry-wide lock from
// both request-handling goroutines and the dispatch goroutine. Delivery
// is at-most-effort: no subscribers for an address means the event is
// dropped, and one failing subscriber never blocks the others.
//
// The Dispatcher decouples the terminal's event delivery goroutine from
// subscriber fanout: the session callback enqueues non-blockingly into a
// bounded queue, a single dispatch goroutine drains it and performs the
// broadcast plus any secondary sinks (SQLite recorder, MQTT mirror,
// telemetry). When the queue is full the event is counted and dropped; a
// realtime stream, not a durable log.
package events
