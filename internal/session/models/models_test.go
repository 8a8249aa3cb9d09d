package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	allowed := map[SessionStatus][]SessionStatus{
		StatusCreated:    {StatusActive, StatusTerminated},
		StatusActive:     {StatusActive, StatusPaused, StatusTerminated},
		StatusPaused:     {StatusPaused, StatusActive, StatusTerminated},
		StatusTerminated: {StatusTerminated},
	}
	all := []SessionStatus{StatusCreated, StatusActive, StatusPaused, StatusTerminated}

	for from, tos := range allowed {
		ok := make(map[SessionStatus]bool, len(tos))
		for _, to := range tos {
			ok[to] = true
		}
		for _, to := range all {
			assert.Equal(t, ok[to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, SessionStatus("BOGUS").CanTransitionTo(StatusActive))
	assert.False(t, StatusActive.CanTransitionTo(SessionStatus("BOGUS")))
}

func TestStatusValid(t *testing.T) {
	for _, status := range []SessionStatus{StatusCreated, StatusActive, StatusPaused, StatusTerminated} {
		assert.True(t, status.Valid())
	}
	assert.False(t, SessionStatus("").Valid())
	assert.False(t, SessionStatus("RUNNING").Valid())
}

func TestAppendActivityTruncates(t *testing.T) {
	session := &Session{}
	for i := 1; i <= MaxActivityEntries+2; i++ {
		session.AppendActivity("file_edit", fmt.Sprintf("entry-%d", i))
	}

	log := session.ActivityLog()
	require.Len(t, log, MaxActivityEntries)
	assert.Equal(t, "entry-3", log[0].Details)
	assert.Equal(t, fmt.Sprintf("entry-%d", MaxActivityEntries+2), log[len(log)-1].Details)

	// Entries carry RFC3339 timestamps.
	_, err := time.Parse(time.RFC3339, log[0].Timestamp)
	assert.NoError(t, err)
}

// ActivityLog must decode the generic-map shape the context takes
// after a round trip through the database.
func TestActivityLogDecodesLoadedContext(t *testing.T) {
	fresh := &Session{}
	fresh.AppendActivity("command", "ran tests")
	fresh.AppendActivity("file_edit", "touched main.go")

	data, err := json.Marshal(fresh.Context)
	require.NoError(t, err)
	loaded := &Session{}
	require.NoError(t, json.Unmarshal(data, &loaded.Context))

	log := loaded.ActivityLog()
	require.Len(t, log, 2)
	assert.Equal(t, "command", log[0].Type)
	assert.Equal(t, "touched main.go", log[1].Details)

	// Appending to the loaded shape keeps earlier entries.
	loaded.AppendActivity("command", "ran lint")
	assert.Len(t, loaded.ActivityLog(), 3)
}

func TestClearActivityLog(t *testing.T) {
	session := &Session{Context: map[string]interface{}{"branch": "main"}}
	session.AppendActivity("command", "ran tests")

	session.ClearActivityLog()

	assert.Nil(t, session.ActivityLog())
	assert.Equal(t, "main", session.Context["branch"], "unrelated context keys survive")

	// Clearing an empty session is a no-op.
	empty := &Session{}
	empty.ClearActivityLog()
	assert.Nil(t, empty.Context)
}

func TestToAPI(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	session := &Session{
		ID:          "abc",
		ProjectPath: "/tmp/p",
		ThreadID:    "thread-1",
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	api := session.ToAPI()
	assert.Equal(t, "ACTIVE", api["status"])
	assert.Equal(t, "2025-06-01T12:00:00Z", api["created_at"])
}
