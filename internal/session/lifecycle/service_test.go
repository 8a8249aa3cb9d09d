package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	"github.com/drawbridge/drawbridge/internal/session/models"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

func setupService(t *testing.T) (*Service, *bus.Memory) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	store, err := storage.NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eventBus := bus.NewMemory(log)
	return NewService(store, eventBus, log), eventBus
}

func TestCreate(t *testing.T) {
	t.Run("creates a session in CREATED", func(t *testing.T) {
		svc, eventBus := setupService(t)
		ctx := context.Background()

		var published []*bus.Event
		_, err := eventBus.Subscribe(events.SessionCreated, func(_ context.Context, e *bus.Event) error {
			published = append(published, e)
			return nil
		})
		require.NoError(t, err)

		session, err := svc.Create(ctx, "/home/user/projects/api", "thread-1")
		require.NoError(t, err)
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, models.StatusCreated, session.Status)

		require.Len(t, published, 1)
		assert.Equal(t, session.ID, published[0].Data["session_id"])
	})

	t.Run("rejects missing project path", func(t *testing.T) {
		svc, _ := setupService(t)
		_, err := svc.Create(context.Background(), "", "thread-1")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("rejects missing thread id", func(t *testing.T) {
		svc, _ := setupService(t)
		_, err := svc.Create(context.Background(), "/tmp/p", "")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("moves along a legal edge", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)

		updated, err := svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusActive)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, updated.Status)
	})

	t.Run("idempotent self-loop", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)
		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusActive)
		require.NoError(t, err)

		updated, err := svc.Transition(ctx, session.ID, models.StatusActive, models.StatusActive)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, updated.Status)
	})

	t.Run("rejects an edge outside the graph", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)

		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusPaused)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidTransition(err))

		// Nothing moved.
		got, err := svc.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, got.Status)
	})

	t.Run("rejects a stale from state", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)
		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusActive)
		require.NoError(t, err)

		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusTerminated)
		require.Error(t, err)
		assert.True(t, errors.IsStateMismatch(err))
	})

	t.Run("rejects unknown status names", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)

		_, err = svc.Transition(ctx, session.ID, models.SessionStatus("RUNNING"), models.StatusActive)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("terminated sessions never leave", func(t *testing.T) {
		svc, _ := setupService(t)
		session, err := svc.Create(ctx, "/tmp/p", "thread-1")
		require.NoError(t, err)
		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusTerminated)
		require.NoError(t, err)

		_, err = svc.Transition(ctx, session.ID, models.StatusTerminated, models.StatusActive)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidTransition(err))
	})
}

func TestUpdateContextUnionMerge(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "/tmp/p", "thread-1")
	require.NoError(t, err)

	_, err = svc.UpdateContext(ctx, session.ID, map[string]interface{}{"branch": "main", "lang": "go"})
	require.NoError(t, err)

	updated, err := svc.UpdateContext(ctx, session.ID, map[string]interface{}{"branch": "feature/x"})
	require.NoError(t, err)

	assert.Equal(t, "feature/x", updated.Context["branch"])
	assert.Equal(t, "go", updated.Context["lang"], "untouched keys survive the merge")
}

func TestTrackActivityBounded(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "/tmp/p", "thread-1")
	require.NoError(t, err)

	for i := 1; i <= 15; i++ {
		require.NoError(t, svc.TrackActivity(ctx, session.ID, "file_edit", fmt.Sprintf("edit-%d", i)))
	}

	got, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	log := got.ActivityLog()
	require.Len(t, log, models.MaxActivityEntries)
	assert.Equal(t, "edit-6", log[0].Details)
	assert.Equal(t, "edit-15", log[len(log)-1].Details)
}

func TestGenerateCatchupSummary(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "/tmp/p", "thread-1")
	require.NoError(t, err)

	t.Run("empty log", func(t *testing.T) {
		summary, err := svc.GenerateCatchupSummary(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "No recent activity.", summary)
	})

	t.Run("renders and clears", func(t *testing.T) {
		require.NoError(t, svc.TrackActivity(ctx, session.ID, "command", "ran tests"))
		require.NoError(t, svc.TrackActivity(ctx, session.ID, "file_edit", "touched main.go"))

		summary, err := svc.GenerateCatchupSummary(ctx, session.ID)
		require.NoError(t, err)
		assert.Contains(t, summary, "ran tests")
		assert.Contains(t, summary, "touched main.go")

		got, err := svc.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ActivityLog())

		again, err := svc.GenerateCatchupSummary(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "No recent activity.", again)
	})
}

func TestRecover(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	mkSession := func(status models.SessionStatus) *models.Session {
		session, err := svc.Create(ctx, filepath.Join("/tmp", string(status), fmt.Sprint(len(status))), "thread-1")
		require.NoError(t, err)
		if status == models.StatusCreated {
			return session
		}
		_, err = svc.Transition(ctx, session.ID, models.StatusCreated, models.StatusActive)
		require.NoError(t, err)
		switch status {
		case models.StatusPaused:
			_, err = svc.Transition(ctx, session.ID, models.StatusActive, models.StatusPaused)
			require.NoError(t, err)
		case models.StatusTerminated:
			_, err = svc.Transition(ctx, session.ID, models.StatusActive, models.StatusTerminated)
			require.NoError(t, err)
		}
		return session
	}

	active1 := mkSession(models.StatusActive)
	active2 := mkSession(models.StatusActive)
	active3 := mkSession(models.StatusActive)
	paused := mkSession(models.StatusPaused)
	terminated := mkSession(models.StatusTerminated)

	// Give one active session pre-existing context to prove the merge
	// preserves it.
	_, err := svc.UpdateContext(ctx, active1.ID, map[string]interface{}{"branch": "main"})
	require.NoError(t, err)

	recovered, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{active1.ID, active2.ID, active3.ID}, recovered)

	for _, id := range recovered {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaused, got.Status)
		assert.NotEmpty(t, got.Context[models.RecoveredAtKey])
	}

	got, err := svc.Get(ctx, active1.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Context["branch"])

	// PAUSED and TERMINATED untouched.
	gotPaused, err := svc.Get(ctx, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, gotPaused.Status)
	assert.Nil(t, gotPaused.Context[models.RecoveredAtKey])

	gotTerminated, err := svc.Get(ctx, terminated.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, gotTerminated.Status)

	// Second run finds nothing.
	again, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// Every sequence of observed statuses must be a walk in the lifecycle
// graph, and illegal edges must never move a session.
func TestTransitionWalkProperty(t *testing.T) {
	allowed := map[models.SessionStatus][]models.SessionStatus{
		models.StatusCreated:    {models.StatusActive, models.StatusTerminated},
		models.StatusActive:     {models.StatusActive, models.StatusPaused, models.StatusTerminated},
		models.StatusPaused:     {models.StatusPaused, models.StatusActive, models.StatusTerminated},
		models.StatusTerminated: {models.StatusTerminated},
	}
	all := []models.SessionStatus{models.StatusCreated, models.StatusActive, models.StatusPaused, models.StatusTerminated}

	svc, _ := setupService(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		session, err := svc.Create(ctx, filepath.Join("/tmp", rapid.StringMatching(`[a-z]{8}`).Draw(rt, "dir")), "thread-1")
		if err != nil {
			rt.Fatalf("create: %v", err)
		}

		current := models.StatusCreated
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "tryIllegal") {
				var illegal []models.SessionStatus
				for _, candidate := range all {
					if !current.CanTransitionTo(candidate) {
						illegal = append(illegal, candidate)
					}
				}
				if len(illegal) > 0 {
					to := rapid.SampledFrom(illegal).Draw(rt, "illegalTo")
					if _, err := svc.Transition(ctx, session.ID, current, to); !errors.IsInvalidTransition(err) {
						rt.Fatalf("expected InvalidTransition for %s -> %s, got %v", current, to, err)
					}
				}
			}

			to := rapid.SampledFrom(allowed[current]).Draw(rt, "to")
			updated, err := svc.Transition(ctx, session.ID, current, to)
			if err != nil {
				rt.Fatalf("legal transition %s -> %s failed: %v", current, to, err)
			}
			if updated.Status != to {
				rt.Fatalf("expected status %s, got %s", to, updated.Status)
			}
			current = to
		}

		got, err := svc.Get(ctx, session.ID)
		if err != nil {
			rt.Fatalf("get: %v", err)
		}
		if got.Status != current {
			rt.Fatalf("store drifted: expected %s, got %s", current, got.Status)
		}
	})
}
