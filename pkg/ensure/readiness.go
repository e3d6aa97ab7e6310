package ensure

import (
	"context"
	"errors"
	"sync"
)

// ReadinessState is the lifecycle state of an Engine.
type ReadinessState int

const (
	StateUninitialized ReadinessState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s ReadinessState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// readinessGate tracks the lifecycle state. Waiters block on done, which is
// closed once the state leaves Initializing; stopped is closed when the
// run is torn down. onChange runs under the gate lock so observers see
// transitions in order; it must not call back into the gate.
type readinessGate struct {
	mu       sync.RWMutex
	state    ReadinessState
	failCode ErrNumeric
	epoch    uint64
	done     chan struct{}
	stopped  chan struct{}

	onChange func(ReadinessState)
}

func newReadinessGate(onChange func(ReadinessState)) *readinessGate {
	return &readinessGate{onChange: onChange}
}

func (g *readinessGate) State() ReadinessState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// begin moves Uninitialized to Initializing and returns the epoch that
// later ready and fail calls must present.
func (g *readinessGate) begin() (uint64, error) {
	g.mu.Lock()
	if g.state != StateUninitialized {
		g.mu.Unlock()
		return 0, ErrStatusAlreadyInitialized
	}
	g.epoch++
	epoch := g.epoch
	g.state = StateInitializing
	g.failCode = StatusSuccess
	g.done = make(chan struct{})
	g.stopped = make(chan struct{})
	g.notify(StateInitializing)
	g.mu.Unlock()

	return epoch, nil
}

// ready moves Initializing to Ready. It reports whether a transition happened.
func (g *readinessGate) ready(epoch uint64) bool {
	return g.settle(epoch, StateReady, StatusSuccess)
}

// fail moves Initializing to Failed.
func (g *readinessGate) fail(epoch uint64, code ErrNumeric) bool {
	return g.settle(epoch, StateFailed, code)
}

func (g *readinessGate) settle(epoch uint64, to ReadinessState, code ErrNumeric) bool {
	g.mu.Lock()
	if g.epoch != epoch || g.state != StateInitializing {
		g.mu.Unlock()
		return false
	}
	g.state = to
	g.failCode = code
	g.notify(to)
	close(g.done)
	g.mu.Unlock()

	return true
}

// reset moves any initialized state back to Uninitialized.
func (g *readinessGate) reset() error {
	g.mu.Lock()
	if g.state == StateUninitialized {
		g.mu.Unlock()
		return ErrStatusNotInitialized
	}
	g.state = StateUninitialized
	g.notify(StateUninitialized)
	close(g.stopped)
	g.mu.Unlock()

	return nil
}

// wait blocks until the gate settles, ctx is done or the run is torn down.
// failOnTimeout moves the gate to Failed when ctx expires first.
func (g *readinessGate) wait(ctx context.Context, failOnTimeout bool) error {
	g.mu.RLock()
	if g.state == StateUninitialized {
		g.mu.RUnlock()
		return ErrStatusNotInitialized
	}
	done, stopped, epoch := g.done, g.stopped, g.epoch
	g.mu.RUnlock()

	select {
	case <-done:
	case <-stopped:
		return ErrStatusNotInitialized
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		if failOnTimeout {
			g.fail(epoch, ErrStatusTimeout)
		}
		return ErrStatusTimeout
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.epoch != epoch {
		return ErrStatusNotInitialized
	}
	switch g.state {
	case StateReady:
		return nil
	case StateFailed:
		return g.failCode
	default:
		return ErrStatusNotInitialized
	}
}

func (g *readinessGate) notify(s ReadinessState) {
	if g.onChange != nil {
		g.onChange(s)
	}
}
