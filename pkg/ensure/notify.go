package ensure

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// listener is the registered callback pair.
type listener struct {
	onUpdate func(generation uint64)
	onExit   func()
}

type notifyEvent struct {
	exit       bool
	generation uint64
}

// dispatcher delivers scheduler events to the registered listener from a
// single goroutine, in order. Callbacks never run concurrently.
type dispatcher struct {
	listener *atomic.Pointer[listener]
	logger   func() *zerolog.Logger
	events   chan notifyEvent
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func newDispatcher(l *atomic.Pointer[listener], logger func() *zerolog.Logger) *dispatcher {
	d := &dispatcher{
		listener: l,
		logger:   logger,
		events:   make(chan notifyEvent, 16),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// publish runs fn and queues an update for the generation it returns, as one
// step with respect to exit: either both happen before the exit notification
// or fn never runs. It reports whether fn ran.
func (d *dispatcher) publish(fn func() uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.events <- notifyEvent{generation: fn()}
	return true
}

// exit queues the exit notification and closes the queue.
func (d *dispatcher) exit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.events <- notifyEvent{exit: true}
	close(d.events)
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for ev := range d.events {
		l := d.listener.Load()
		if l == nil {
			continue
		}
		if ev.exit {
			d.deliver("exit", l.onExit)
			continue
		}
		if l.onUpdate != nil {
			gen := ev.generation
			d.deliver("update", func() { l.onUpdate(gen) })
		}
	}
}

func (d *dispatcher) deliver(kind string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error().
				Str("callback", kind).
				Interface("panic", r).
				Msg("notification callback panicked")
		}
	}()
	fn()
}
