package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/session/models"
)

// SessionStore persists coding sessions in the sessions database.
type SessionStore struct {
	store
}

// NewSessionStore opens (or creates) the sessions database at dbPath.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	base, err := openOwned(dbPath)
	if err != nil {
		return nil, err
	}
	s := &SessionStore{store: base}
	if err := s.initSchema(); err != nil {
		if closeErr := base.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize sessions schema: %w", err)
	}
	return s, nil
}

// NewSessionStoreWithDB creates a session store over an existing
// writer/reader pair (shared ownership).
func NewSessionStoreWithDB(writer, reader *sqlx.DB) (*SessionStore, error) {
	s := &SessionStore{store: store{db: writer, ro: reader}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize sessions schema: %w", err)
	}
	return s, nil
}

// initSchema creates the sessions table if it doesn't exist.
func (s *SessionStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'CREATED',
		context TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_thread_id ON sessions(thread_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_project_path ON sessions(project_path);
	`)
	return err
}

// Create inserts a new session. A missing ID is generated and the
// status defaults to CREATED.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = models.StatusCreated
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	contextJSON, err := json.Marshal(session.Context)
	if err != nil {
		contextJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_path, thread_id, status, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.ProjectPath, session.ThreadID, session.Status, string(contextJSON), session.CreatedAt, session.UpdatedAt)
	return err
}

// Get retrieves a session by its full ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx, `
		SELECT id, project_path, thread_id, status, context, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// List returns all sessions, newest first.
func (s *SessionStore) List(ctx context.Context) ([]*models.Session, error) {
	return s.list(ctx, `
		SELECT id, project_path, thread_id, status, context, created_at, updated_at
		FROM sessions ORDER BY created_at DESC
	`)
}

// ListByStatus returns all sessions currently in the given state,
// newest first.
func (s *SessionStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	return s.list(ctx, `
		SELECT id, project_path, thread_id, status, context, created_at, updated_at
		FROM sessions WHERE status = ? ORDER BY created_at DESC
	`, status)
}

// GetActiveByThread returns the most recently updated ACTIVE session
// bound to the given thread.
func (s *SessionStore) GetActiveByThread(ctx context.Context, threadID string) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx, `
		SELECT id, project_path, thread_id, status, context, created_at, updated_at
		FROM sessions WHERE thread_id = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1
	`, threadID, models.StatusActive)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("active session for thread", threadID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateStatus moves a session from one state to another with an
// optimistic concurrency guard: the write only lands when the stored
// state still equals from. A stale caller gets StateMismatch.
func (s *SessionStore) UpdateStatus(ctx context.Context, id string, from, to models.SessionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return s.mismatch(ctx, id, from)
	}
	return nil
}

// UpdateStatusAndContext moves a session's state and replaces its
// context in one guarded write. Crash recovery uses this so the new
// status and the recovery marker land together.
func (s *SessionStore) UpdateStatusAndContext(ctx context.Context, id string, from, to models.SessionStatus, sessionCtx map[string]interface{}) error {
	contextJSON, err := json.Marshal(sessionCtx)
	if err != nil {
		contextJSON = []byte("{}")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, context = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, string(contextJSON), time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return s.mismatch(ctx, id, from)
	}
	return nil
}

// UpdateContext replaces a session's context document.
func (s *SessionStore) UpdateContext(ctx context.Context, id string, sessionCtx map[string]interface{}) error {
	contextJSON, err := json.Marshal(sessionCtx)
	if err != nil {
		contextJSON = []byte("{}")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET context = ?, updated_at = ? WHERE id = ?
	`, string(contextJSON), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("session", id)
	}
	return nil
}

// mismatch distinguishes a missing row from a guarded update that lost
// the race: the former is NotFound, the latter StateMismatch carrying
// the state actually on disk.
func (s *SessionStore) mismatch(ctx context.Context, id string, expected models.SessionStatus) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.StateMismatch("session", id, string(expected), string(current.Status))
}

func (s *SessionStore) list(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
	rows, err := s.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var contextJSON string
	err := row.Scan(&session.ID, &session.ProjectPath, &session.ThreadID, &session.Status, &contextJSON, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(contextJSON), &session.Context)
	return session, nil
}
