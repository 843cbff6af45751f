// Package events fans task lifecycle events out to interested sinks: the
// MCP notification broadcast, the audit journal, and optionally a NATS
// subject for external observers.
//
// Delivery is strictly best-effort. Publish never blocks the transition
// that produced the event; when the buffer is full the event is dropped and
// counted, nothing more.
package events

import (
	"log"
	"sync/atomic"

	"github.com/janwilmake/mcp-tasks/internal/tasks"
)

// Sink consumes task events. Handle runs on the dispatcher's goroutine, so
// a sink that lingers delays the others and fills the buffer behind it.
type Sink interface {
	Name() string
	Handle(e tasks.Event)
}

// Dispatcher decouples event producers from sinks with one buffered
// channel and a single pump goroutine.
type Dispatcher struct {
	sinks   []Sink
	ch      chan tasks.Event
	dropped atomic.Uint64
	closed  atomic.Bool
	done    chan struct{}
}

// NewDispatcher starts a dispatcher over the given sinks. A buffer of 0
// picks a default of 256.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		sinks: sinks,
		ch:    make(chan tasks.Event, buffer),
		done:  make(chan struct{}),
	}
	go d.pump()
	return d
}

// Publish hands an event to the sinks without ever blocking the caller.
// It satisfies tasks.EventSink.
func (d *Dispatcher) Publish(e tasks.Event) {
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was
// full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close drains buffered events into the sinks and stops the pump. Publish
// calls arriving after Close count as dropped.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	close(d.ch)
	<-d.done
	if n := d.Dropped(); n > 0 {
		log.Printf("EVENTS: dispatcher closed, %d events were dropped", n)
	}
}

func (d *Dispatcher) pump() {
	defer close(d.done)
	for e := range d.ch {
		for _, sink := range d.sinks {
			d.deliver(sink, e)
		}
	}
}

// deliver isolates sink panics so one broken consumer cannot stop the
// others or kill the pump.
func (d *Dispatcher) deliver(sink Sink, e tasks.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("EVENTS: sink %s panicked on %s event for %s: %v", sink.Name(), e.Kind, e.TaskID, r)
		}
	}()
	sink.Handle(e)
}
