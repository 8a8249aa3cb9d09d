// Package emergency manages the persisted emergency-mode switch that
// lets safe tools run unattended while something is on fire.
package emergency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/logger"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// Service owns reads and writes of the emergency singleton.
type Service struct {
	store  *storage.EmergencyStore
	logger *logger.Logger
}

// NewService creates an emergency service over the settings store.
func NewService(store *storage.EmergencyStore, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("emergency"),
	}
}

// Activate switches to EMERGENCY, recording when and by whom. If the
// mode is already active, nothing changes — the original activator
// and timestamp are preserved.
func (s *Service) Activate(ctx context.Context, threadID string) (*storage.EmergencyState, bool, error) {
	state, err := s.store.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	if state.Status == storage.EmergencyActive {
		return state, false, nil
	}

	now := time.Now().UTC()
	state = &storage.EmergencyState{
		Status:            storage.EmergencyActive,
		ActivatedAt:       &now,
		ActivatedByThread: &threadID,
	}
	if err := s.store.Set(ctx, state); err != nil {
		return nil, false, err
	}

	s.logger.Warn("Emergency mode activated", zap.String("thread_id", threadID))
	return state, true, nil
}

// Deactivate switches back to NORMAL and clears the activation
// metadata. Deactivating an already normal mode is a no-op.
func (s *Service) Deactivate(ctx context.Context) (bool, error) {
	state, err := s.store.Get(ctx)
	if err != nil {
		return false, err
	}
	if state.Status == storage.EmergencyNormal {
		return false, nil
	}

	if err := s.store.Set(ctx, &storage.EmergencyState{Status: storage.EmergencyNormal}); err != nil {
		return false, err
	}

	s.logger.Info("Emergency mode deactivated")
	return true, nil
}

// Status returns the current emergency state.
func (s *Service) Status(ctx context.Context) (*storage.EmergencyState, error) {
	return s.store.Get(ctx)
}

// Active reports whether emergency mode is on.
func (s *Service) Active(ctx context.Context) (bool, error) {
	state, err := s.store.Get(ctx)
	if err != nil {
		return false, err
	}
	return state.Status == storage.EmergencyActive, nil
}
