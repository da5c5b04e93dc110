package events

import (
	"sync"
	"sync/atomic"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// defaultQueueSize is the dispatch buffer between the terminal's event
// delivery goroutine and subscriber fanout.
const defaultQueueSize = 256

// Sink receives every dispatched event after the broadcast. Used for
// secondary consumers: the SQLite recorder, the MQTT mirror, telemetry.
// Record runs on the dispatch goroutine and should return quickly.
type Sink interface {
	Record(ev zk.RealtimeEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(zk.RealtimeEvent)

// Record calls f(ev).
func (f SinkFunc) Record(ev zk.RealtimeEvent) { f(ev) }

// Dispatcher drains a bounded event queue into Router.Broadcast and the
// registered sinks. Enqueue is non-blocking and safe to call from a
// session's realtime callback; slow subscriber delivery never stalls
// the terminal's own event goroutine.
type Dispatcher struct {
	router *Router
	sinks  []Sink
	queue  chan zk.RealtimeEvent

	dropped atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger Logger
}

// NewDispatcher creates a Dispatcher. queueSize <= 0 takes the default.
func NewDispatcher(router *Router, queueSize int, logger Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		router: router,
		queue:  make(chan zk.RealtimeEvent, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// AddSink registers a secondary consumer. Call before Start.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Start launches the dispatch goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts dispatch. Queued events not yet drained are discarded.
// Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// Enqueue hands an event to the dispatcher without blocking. When the
// queue is full the event is counted and dropped, and Enqueue reports
// false.
func (d *Dispatcher) Enqueue(ev zk.RealtimeEvent) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped.Add(1)
		if d.logger != nil {
			d.logger.Warn("dispatch queue full, dropping event", "device", ev.Device)
		}
		return false
	}
}

// Dropped returns the count of events discarded due to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.router.Broadcast(ev)
			for _, s := range d.sinks {
				s.Record(ev)
			}
		}
	}
}
