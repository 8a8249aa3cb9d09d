// Package lifecycle owns the session state machine: creation, guarded
// transitions, activity tracking, catch-up summaries, and crash
// recovery.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
	"github.com/drawbridge/drawbridge/internal/events"
	"github.com/drawbridge/drawbridge/internal/events/bus"
	"github.com/drawbridge/drawbridge/internal/session/models"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// Service coordinates session state against the session store and
// announces lifecycle changes on the event bus.
type Service struct {
	store    *storage.SessionStore
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a lifecycle service.
func NewService(store *storage.SessionStore, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		eventBus: eventBus,
		logger:   log.WithComponent("lifecycle"),
	}
}

// Create registers a new session in CREATED for the given project and
// thread.
func (s *Service) Create(ctx context.Context, projectPath, threadID string) (*models.Session, error) {
	if projectPath == "" {
		return nil, errors.ValidationError("project_path", "is required")
	}
	if threadID == "" {
		return nil, errors.ValidationError("thread_id", "is required")
	}

	session := &models.Session{
		ProjectPath: projectPath,
		ThreadID:    threadID,
		Status:      models.StatusCreated,
		Context:     map[string]interface{}{},
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("project_path", projectPath))
	s.publish(ctx, events.SessionCreated, map[string]interface{}{
		"session_id":   session.ID,
		"project_path": session.ProjectPath,
		"thread_id":    session.ThreadID,
	})
	return session, nil
}

// Get retrieves a session by its full ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.store.Get(ctx, id)
}

// List returns all sessions, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Session, error) {
	return s.store.List(ctx)
}

// ActiveForThread returns the most recent ACTIVE session bound to a
// thread.
func (s *Service) ActiveForThread(ctx context.Context, threadID string) (*models.Session, error) {
	return s.store.GetActiveByThread(ctx, threadID)
}

// Transition moves a session along one edge of the lifecycle graph.
// The caller states where it believes the session is; if the stored
// state drifted, the move fails with StateMismatch and nothing is
// written. Edges outside the graph fail with InvalidTransition before
// touching the store.
func (s *Service) Transition(ctx context.Context, id string, from, to models.SessionStatus) (*models.Session, error) {
	if !from.Valid() {
		return nil, errors.ValidationError("from", fmt.Sprintf("unknown status %q", string(from)))
	}
	if !to.Valid() {
		return nil, errors.ValidationError("to", fmt.Sprintf("unknown status %q", string(to)))
	}
	if !from.CanTransitionTo(to) {
		return nil, errors.InvalidTransition(string(from), string(to))
	}

	if err := s.store.UpdateStatus(ctx, id, from, to); err != nil {
		return nil, err
	}

	s.logger.Info("Session transitioned",
		zap.String("session_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	s.publish(ctx, events.SessionTransitioned, map[string]interface{}{
		"session_id": id,
		"from":       string(from),
		"to":         string(to),
	})
	return s.store.Get(ctx, id)
}

// UpdateContext union-merges kv into the session context. Existing
// keys not named in kv survive.
func (s *Service) UpdateContext(ctx context.Context, id string, kv map[string]interface{}) (*models.Session, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Context == nil {
		session.Context = make(map[string]interface{})
	}
	for k, v := range kv {
		session.Context[k] = v
	}
	if err := s.store.UpdateContext(ctx, id, session.Context); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// TrackActivity appends a timestamped entry to the session's rolling
// activity log, keeping only the most recent entries.
func (s *Service) TrackActivity(ctx context.Context, id, entryType, details string) error {
	if entryType == "" {
		return errors.ValidationError("type", "is required")
	}
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	session.AppendActivity(entryType, details)
	return s.store.UpdateContext(ctx, id, session.Context)
}

// GenerateCatchupSummary renders the activity log into a short
// paragraph and clears the log in the same store write, so the next
// summary starts fresh.
func (s *Service) GenerateCatchupSummary(ctx context.Context, id string) (string, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	entries := session.ActivityLog()
	if len(entries) == 0 {
		return "No recent activity.", nil
	}

	session.ClearActivityLog()
	if err := s.store.UpdateContext(ctx, id, session.Context); err != nil {
		return "", err
	}
	return renderCatchup(entries), nil
}

// Recover moves every ACTIVE session to PAUSED and stamps recovered_at
// into its context. Sessions already past ACTIVE are left alone, so
// running recovery twice is harmless.
func (s *Service) Recover(ctx context.Context) ([]string, error) {
	active, err := s.store.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return nil, err
	}

	recoveredAt := time.Now().UTC().Format(time.RFC3339)
	var recovered []string
	for _, session := range active {
		if session.Context == nil {
			session.Context = make(map[string]interface{})
		}
		session.Context[models.RecoveredAtKey] = recoveredAt

		err := s.store.UpdateStatusAndContext(ctx, session.ID, models.StatusActive, models.StatusPaused, session.Context)
		if errors.IsStateMismatch(err) {
			// Someone moved the session between the list and the write.
			continue
		}
		if err != nil {
			return recovered, err
		}

		recovered = append(recovered, session.ID)
		s.publish(ctx, events.SessionRecovered, map[string]interface{}{
			"session_id":   session.ID,
			"recovered_at": recoveredAt,
		})
	}

	if len(recovered) > 0 {
		s.logger.Info("Recovered interrupted sessions", zap.Int("count", len(recovered)))
	}
	return recovered, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	_ = s.eventBus.Publish(ctx, eventType, bus.NewEvent(eventType, events.SourceLifecycle, data))
}

// renderCatchup turns retained activity entries into one readable
// paragraph, oldest first.
func renderCatchup(entries []models.ActivityEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Details == "" {
			parts = append(parts, e.Type)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Details, e.Type))
	}
	plural := "activities"
	if len(entries) == 1 {
		plural = "activity"
	}
	return fmt.Sprintf("While you were away, %d %s happened: %s.", len(entries), plural, strings.Join(parts, "; "))
}
