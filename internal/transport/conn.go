package transport

import (
	"sync"
	"time"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

// ConnState represents the connection state of the gateway link.
type ConnState string

const (
	// StateConnected means the link is up and sends go straight out.
	StateConnected ConnState = "CONNECTED"
	// StateDisconnected means the link is down; outbound messages buffer.
	StateDisconnected ConnState = "DISCONNECTED"
	// StateReconnecting means a dial attempt is pending or in flight.
	StateReconnecting ConnState = "RECONNECTING"
	// StateSyncing means the link just came back and catch-up summaries
	// plus the buffered backlog are being delivered.
	StateSyncing ConnState = "SYNCING"
)

// DefaultReconnectMaxDelay caps the wait between reconnect attempts.
const DefaultReconnectMaxDelay = 60 * time.Second

var allowedTransitions = map[ConnState][]ConnState{
	StateConnected:    {StateDisconnected, StateSyncing},
	StateDisconnected: {StateReconnecting},
	StateReconnecting: {StateConnected, StateDisconnected},
	StateSyncing:      {StateConnected},
}

// StateMachine tracks the gateway link state and the reconnect attempt
// counter. The counter increments on every entry to RECONNECTING and
// resets to zero on entry to CONNECTED.
type StateMachine struct {
	mu      sync.Mutex
	state   ConnState
	attempt int
}

// NewStateMachine returns a state machine starting in DISCONNECTED.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateDisconnected}
}

// State returns the current connection state.
func (m *StateMachine) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of reconnect attempts since the link was
// last CONNECTED.
func (m *StateMachine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Snapshot returns the state and attempt counter in one read.
func (m *StateMachine) Snapshot() (ConnState, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.attempt
}

// Transition moves the machine to the given state. Edges outside the
// permitted set are rejected with InvalidTransition and leave the machine
// untouched.
func (m *StateMachine) Transition(to ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	legal := false
	for _, next := range allowedTransitions[m.state] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		return errors.InvalidTransition(string(m.state), string(to))
	}

	m.state = to
	switch to {
	case StateReconnecting:
		m.attempt++
	case StateConnected:
		m.attempt = 0
	}
	return nil
}

// Backoff returns the wait before reconnect attempt n: min(2^(n-1), 60)
// seconds. Attempts below 1 wait nothing.
func Backoff(attempt int) time.Duration {
	return BackoffCapped(attempt, DefaultReconnectMaxDelay)
}

// BackoffCapped is Backoff with a configurable ceiling.
func BackoffCapped(attempt int, max time.Duration) time.Duration {
	if attempt < 1 || max <= 0 {
		return 0
	}
	delay := time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
