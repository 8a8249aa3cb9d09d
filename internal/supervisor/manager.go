package supervisor

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// Manager tracks the running child process of every ACTIVE session.
// Exactly one child per session: starting a second one for the same
// session fails until the first is stopped.
type Manager struct {
	command      []string
	gracefulStop time.Duration
	logger       *logger.Logger

	mu    sync.RWMutex
	procs map[string]*Process
}

// NewManager creates a process manager spawning the given argv vector
// for every session.
func NewManager(command []string, gracefulStop time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		command:      command,
		gracefulStop: gracefulStop,
		logger:       log.WithComponent("supervisor"),
		procs:        make(map[string]*Process),
	}
}

// StartSession spawns a child for the session in its project
// directory.
func (m *Manager) StartSession(sessionID, projectPath string) error {
	m.mu.Lock()
	proc, ok := m.procs[sessionID]
	if ok && proc.IsRunning() {
		m.mu.Unlock()
		return apperrors.Subprocess("session already has a running process", nil)
	}
	proc = NewProcess(m.command, projectPath, m.logger)
	m.procs[sessionID] = proc
	m.mu.Unlock()

	if err := proc.Start(); err != nil {
		m.mu.Lock()
		delete(m.procs, sessionID)
		m.mu.Unlock()
		return err
	}

	m.logger.Info("Session process started",
		zap.String("session_id", sessionID),
		zap.String("project_path", projectPath))
	return nil
}

// StopSession terminates the session's child if one is tracked.
// Stopping a session without a process is a no-op.
func (m *Manager) StopSession(sessionID string) error {
	m.mu.Lock()
	proc, ok := m.procs[sessionID]
	delete(m.procs, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return proc.Stop(m.gracefulStop)
}

// IsRunning reports whether the session currently owns a live child.
func (m *Manager) IsRunning(sessionID string) bool {
	m.mu.RLock()
	proc, ok := m.procs[sessionID]
	m.mu.RUnlock()
	return ok && proc.IsRunning()
}

// BridgeFor returns the line bridge of the session's running child.
func (m *Manager) BridgeFor(sessionID string) (*Bridge, error) {
	m.mu.RLock()
	proc, ok := m.procs[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("process for session", sessionID)
	}
	return proc.Bridge()
}

// ProcessFor returns the tracked supervisor for a session.
func (m *Manager) ProcessFor(sessionID string) (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proc, ok := m.procs[sessionID]
	return proc, ok
}

// Running returns the session ids that currently own a live child.
func (m *Manager) Running() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.procs))
	for id, proc := range m.procs {
		if proc.IsRunning() {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAll terminates every tracked child, joining the failures.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	procs := make(map[string]*Process, len(m.procs))
	for id, proc := range m.procs {
		procs[id] = proc
	}
	m.procs = make(map[string]*Process)
	m.mu.Unlock()

	var errs []error
	for id, proc := range procs {
		if err := proc.Stop(m.gracefulStop); err != nil {
			m.logger.Error("Failed to stop session process",
				zap.String("session_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
