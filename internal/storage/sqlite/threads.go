package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

// ThreadMapping binds a messaging thread to a project directory. The
// binding is one-to-one: a thread maps to exactly one path and a path
// to exactly one thread.
type ThreadMapping struct {
	ThreadID    string    `json:"thread_id"`
	ProjectPath string    `json:"project_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ThreadStore persists thread mappings in the threads database.
type ThreadStore struct {
	store
}

// NewThreadStore opens (or creates) the threads database at dbPath.
func NewThreadStore(dbPath string) (*ThreadStore, error) {
	base, err := openOwned(dbPath)
	if err != nil {
		return nil, err
	}
	s := &ThreadStore{store: base}
	if err := s.initSchema(); err != nil {
		if closeErr := base.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize threads schema: %w", err)
	}
	return s, nil
}

// NewThreadStoreWithDB creates a thread store over an existing
// writer/reader pair (shared ownership).
func NewThreadStoreWithDB(writer, reader *sqlx.DB) (*ThreadStore, error) {
	s := &ThreadStore{store: store{db: writer, ro: reader}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize threads schema: %w", err)
	}
	return s, nil
}

func (s *ThreadStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS thread_mappings (
		thread_id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`)
	return err
}

// Map creates a thread-to-project binding. Either side already being
// bound is a MappingConflict naming the existing binding.
func (s *ThreadStore) Map(ctx context.Context, threadID, projectPath string) (*ThreadMapping, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var existingPath string
	err = tx.QueryRowContext(ctx, `SELECT project_path FROM thread_mappings WHERE thread_id = ?`, threadID).Scan(&existingPath)
	if err == nil {
		_ = tx.Rollback()
		return nil, errors.MappingConflict(fmt.Sprintf("thread '%s' is already mapped to %s", threadID, existingPath))
	}
	if err != sql.ErrNoRows {
		_ = tx.Rollback()
		return nil, err
	}

	var existingThread string
	err = tx.QueryRowContext(ctx, `SELECT thread_id FROM thread_mappings WHERE project_path = ?`, projectPath).Scan(&existingThread)
	if err == nil {
		_ = tx.Rollback()
		return nil, errors.MappingConflict(fmt.Sprintf("project path '%s' is already mapped to thread %s", projectPath, existingThread))
	}
	if err != sql.ErrNoRows {
		_ = tx.Rollback()
		return nil, err
	}

	now := time.Now().UTC()
	mapping := &ThreadMapping{ThreadID: threadID, ProjectPath: projectPath, CreatedAt: now, UpdatedAt: now}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_mappings (thread_id, project_path, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, mapping.ThreadID, mapping.ProjectPath, mapping.CreatedAt, mapping.UpdatedAt)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return nil, fmt.Errorf("failed to rollback mapping insert: %w", rollbackErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return mapping, nil
}

// Get retrieves the mapping for a thread.
func (s *ThreadStore) Get(ctx context.Context, threadID string) (*ThreadMapping, error) {
	mapping := &ThreadMapping{}
	err := s.ro.QueryRowContext(ctx, `
		SELECT thread_id, project_path, created_at, updated_at
		FROM thread_mappings WHERE thread_id = ?
	`, threadID).Scan(&mapping.ThreadID, &mapping.ProjectPath, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("thread mapping", threadID)
	}
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// GetByPath retrieves the mapping owning a project path.
func (s *ThreadStore) GetByPath(ctx context.Context, projectPath string) (*ThreadMapping, error) {
	mapping := &ThreadMapping{}
	err := s.ro.QueryRowContext(ctx, `
		SELECT thread_id, project_path, created_at, updated_at
		FROM thread_mappings WHERE project_path = ?
	`, projectPath).Scan(&mapping.ThreadID, &mapping.ProjectPath, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("thread mapping for path", projectPath)
	}
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// List returns all mappings, oldest first.
func (s *ThreadStore) List(ctx context.Context) ([]*ThreadMapping, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT thread_id, project_path, created_at, updated_at
		FROM thread_mappings ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var mappings []*ThreadMapping
	for rows.Next() {
		mapping := &ThreadMapping{}
		if err := rows.Scan(&mapping.ThreadID, &mapping.ProjectPath, &mapping.CreatedAt, &mapping.UpdatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

// Unmap removes a thread's binding.
func (s *ThreadStore) Unmap(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM thread_mappings WHERE thread_id = ?`, threadID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("thread mapping", threadID)
	}
	return nil
}
