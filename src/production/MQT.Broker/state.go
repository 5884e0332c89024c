package mqtbroker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the connection state of a Session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePublishing
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePublishing:
		return "publishing"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// satisfies reports whether s meets a wait for want. Publishing happens on a live connection.
func (s State) satisfies(want State) bool {
	if s == want {
		return true
	}
	return want == StateConnected && s == StatePublishing
}

// stateMachine holds the current state. Every transition closes changed and
// replaces it, so waiters wake up and re-check.
type stateMachine struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateDisconnected, changed: make(chan struct{})}
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// set moves to next and returns the previous state
func (m *stateMachine) set(next State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	if prev == next {
		return prev
	}
	m.state = next
	close(m.changed)
	m.changed = make(chan struct{})
	return prev
}

// await blocks until the state satisfies want, ctx is done or timeout elapses
func (m *stateMachine) await(ctx context.Context, want State, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		current, changed := m.state, m.changed
		m.mu.Unlock()

		if current.satisfies(want) {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: still %s after %s, wanted %s", ErrStateTimeout, current, timeout, want)
		}
	}
}
