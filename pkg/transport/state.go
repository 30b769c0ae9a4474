package transport

import (
	"context"
	"sync"
	"time"
)

// State is the physical link state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateMachine tracks link state and lets callers wait for the link to be up
// or for the next transition. The zero value is not usable; use NewStateMachine.
type StateMachine struct {
	mu            sync.Mutex
	state         State
	lastConnected time.Time
	ready         chan struct{} // closed while connected
	changed       chan struct{} // closed on the next transition
	now           func() time.Time
}

// NewStateMachine returns a machine in StateDisconnected.
func NewStateMachine(now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		state:   StateDisconnected,
		ready:   make(chan struct{}),
		changed: make(chan struct{}),
		now:     now,
	}
}

// Set moves to next and returns the previous state. Setting the current
// state again is not a transition and returns changed == false.
func (m *StateMachine) Set(next State) (prev State, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.state
	if prev == next {
		return prev, false
	}
	m.state = next

	switch {
	case next == StateConnected:
		m.lastConnected = m.now()
		close(m.ready)
	case prev == StateConnected:
		// Arm a fresh wait for the next successful handshake.
		m.ready = make(chan struct{})
	}

	close(m.changed)
	m.changed = make(chan struct{})
	return prev, true
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastConnected returns the time of the last transition into StateConnected.
func (m *StateMachine) LastConnected() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnected
}

// Ready returns a channel that is closed while the link is connected.
// The returned channel belongs to the current connection epoch; after a
// disconnect callers must call Ready again.
func (m *StateMachine) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// NextTransition returns a channel closed on the next state change.
func (m *StateMachine) NextTransition() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// WaitReady blocks until the link is connected or ctx is done.
func (m *StateMachine) WaitReady(ctx context.Context) error {
	select {
	case <-m.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
