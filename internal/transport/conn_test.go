package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

func TestStateMachineEdges(t *testing.T) {
	legal := map[ConnState]map[ConnState]bool{
		StateConnected:    {StateDisconnected: true, StateSyncing: true},
		StateDisconnected: {StateReconnecting: true},
		StateReconnecting: {StateConnected: true, StateDisconnected: true},
		StateSyncing:      {StateConnected: true},
	}
	states := []ConnState{StateConnected, StateDisconnected, StateReconnecting, StateSyncing}

	for _, from := range states {
		for _, to := range states {
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				m := &StateMachine{state: from}
				err := m.Transition(to)
				if legal[from][to] {
					require.NoError(t, err)
					assert.Equal(t, to, m.State())
				} else {
					require.Error(t, err)
					assert.True(t, errors.IsInvalidTransition(err))
					assert.Equal(t, from, m.State(), "rejected transition must not move the machine")
				}
			})
		}
	}
}

func TestAttemptCounter(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, m.Attempt())

	require.NoError(t, m.Transition(StateReconnecting))
	assert.Equal(t, 1, m.Attempt())

	require.NoError(t, m.Transition(StateDisconnected))
	require.NoError(t, m.Transition(StateReconnecting))
	assert.Equal(t, 2, m.Attempt())

	// Landing a connection zeroes the counter.
	require.NoError(t, m.Transition(StateConnected))
	assert.Equal(t, 0, m.Attempt())

	// The sync hop does not touch it.
	require.NoError(t, m.Transition(StateSyncing))
	require.NoError(t, m.Transition(StateConnected))
	assert.Equal(t, 0, m.Attempt())
}

func TestBackoffSequence(t *testing.T) {
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, Backoff(i+1), "attempt %d", i+1)
	}
}

func TestBackoffEdges(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(0))
	assert.Equal(t, time.Duration(0), Backoff(-3))
	assert.Equal(t, 5*time.Second, BackoffCapped(4, 5*time.Second))
	assert.Equal(t, time.Duration(0), BackoffCapped(4, 0))
}

func TestBackoffBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempt := rapid.IntRange(1, 100000).Draw(t, "attempt")
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	})
}

// Random legal walks keep the machine inside the permitted edge set and
// the attempt counter consistent; interleaved illegal edges bounce off.
func TestStateMachineWalkProperty(t *testing.T) {
	all := []ConnState{StateConnected, StateDisconnected, StateReconnecting, StateSyncing}

	rapid.Check(t, func(t *rapid.T) {
		m := NewStateMachine()
		attempts := 0
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			from := m.State()
			if rapid.Bool().Draw(t, "illegal") {
				to := rapid.SampledFrom(all).Draw(t, "to")
				err := m.Transition(to)
				legal := false
				for _, next := range allowedTransitions[from] {
					if next == to {
						legal = true
					}
				}
				if !legal {
					require.Error(t, err)
					require.Equal(t, from, m.State())
					continue
				}
				require.NoError(t, err)
			} else {
				next := rapid.SampledFrom(allowedTransitions[from]).Draw(t, "next")
				require.NoError(t, m.Transition(next))
			}

			switch m.State() {
			case StateReconnecting:
				if from != StateReconnecting {
					attempts++
				}
			case StateConnected:
				attempts = 0
			}
			require.Equal(t, attempts, m.Attempt())
		}
	})
}
