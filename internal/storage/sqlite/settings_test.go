package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge/drawbridge/internal/db"
)

// Preferences and the emergency flag share the settings database, so
// both stores are exercised over one pool the way the daemon wires
// them.
func newSettingsStores(t *testing.T) (*NotificationPrefStore, *EmergencyStore) {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	prefs, err := NewNotificationPrefStoreWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	emergency, err := NewEmergencyStoreWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	return prefs, emergency
}

func TestNotificationPrefStore(t *testing.T) {
	prefs, _ := newSettingsStores(t)
	ctx := context.Background()

	t.Run("unset pair reports not found", func(t *testing.T) {
		_, found, err := prefs.Get(ctx, "thread-1", "progress")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, prefs.Set(ctx, "thread-1", "progress", true))

		enabled, found, err := prefs.Get(ctx, "thread-1", "progress")
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, enabled)
	})

	t.Run("set overrides previous value", func(t *testing.T) {
		require.NoError(t, prefs.Set(ctx, "thread-1", "progress", false))

		enabled, found, err := prefs.Get(ctx, "thread-1", "progress")
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, enabled)
	})

	t.Run("list for thread", func(t *testing.T) {
		require.NoError(t, prefs.Set(ctx, "thread-1", "completion", true))
		require.NoError(t, prefs.Set(ctx, "thread-2", "completion", false))

		got, err := prefs.ListForThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"progress": false, "completion": true}, got)
	})
}

func TestEmergencyStoreDefaults(t *testing.T) {
	_, emergency := newSettingsStores(t)

	state, err := emergency.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EmergencyNormal, state.Status)
	assert.Nil(t, state.ActivatedAt)
	assert.Nil(t, state.ActivatedByThread)
}

func TestEmergencyStoreRoundTrip(t *testing.T) {
	_, emergency := newSettingsStores(t)
	ctx := context.Background()

	activatedAt := time.Now().UTC().Truncate(time.Second)
	thread := "thread-1"
	require.NoError(t, emergency.Set(ctx, &EmergencyState{
		Status:            EmergencyActive,
		ActivatedAt:       &activatedAt,
		ActivatedByThread: &thread,
	}))

	state, err := emergency.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, EmergencyActive, state.Status)
	require.NotNil(t, state.ActivatedAt)
	assert.True(t, state.ActivatedAt.Equal(activatedAt))
	require.NotNil(t, state.ActivatedByThread)
	assert.Equal(t, "thread-1", *state.ActivatedByThread)

	// Deactivation clears both nullable columns.
	require.NoError(t, emergency.Set(ctx, &EmergencyState{Status: EmergencyNormal}))

	state, err = emergency.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, EmergencyNormal, state.Status)
	assert.Nil(t, state.ActivatedAt)
	assert.Nil(t, state.ActivatedByThread)
}

func TestEmergencyStatusString(t *testing.T) {
	assert.Equal(t, "NORMAL", EmergencyNormal.String())
	assert.Equal(t, "EMERGENCY", EmergencyActive.String())
}
