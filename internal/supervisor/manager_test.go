package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager([]string{"cat"}, time.Second, testLogger(t))
	t.Cleanup(func() { _ = m.StopAll() })
	return m
}

func TestManagerStartAndStop(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.StartSession("session-1", t.TempDir()))
	assert.True(t, m.IsRunning("session-1"))

	bridge, err := m.BridgeFor("session-1")
	require.NoError(t, err)
	require.NoError(t, bridge.SendCommand("ping"))
	lines := collectLines(t, bridge.Lines(), 1, 5*time.Second)
	assert.Equal(t, []string{"ping"}, lines)

	require.NoError(t, m.StopSession("session-1"))
	assert.False(t, m.IsRunning("session-1"))

	// Stopping again is a no-op.
	require.NoError(t, m.StopSession("session-1"))
}

func TestManagerRejectsSecondChild(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.StartSession("session-1", t.TempDir()))
	err := m.StartSession("session-1", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsSubprocess(err))
}

func TestManagerFailedStartLeavesNoEntry(t *testing.T) {
	m := NewManager([]string{"drawbridge-test-no-such-binary"}, time.Second, testLogger(t))

	err := m.StartSession("session-1", t.TempDir())
	require.Error(t, err)
	assert.False(t, m.IsRunning("session-1"))

	_, err = m.BridgeFor("session-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestManagerRunningAndStopAll(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.StartSession("session-1", t.TempDir()))
	require.NoError(t, m.StartSession("session-2", t.TempDir()))
	assert.ElementsMatch(t, []string{"session-1", "session-2"}, m.Running())

	require.NoError(t, m.StopAll())
	assert.Empty(t, m.Running())
	assert.False(t, m.IsRunning("session-1"))
	assert.False(t, m.IsRunning("session-2"))
}
