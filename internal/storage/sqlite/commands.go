package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/drawbridge/drawbridge/internal/common/errors"
)

// CustomCommand is a reusable prompt mirrored from a markdown file in
// the watched commands directory. Metadata carries the file's YAML
// front-matter minus the name key.
type CustomCommand struct {
	Name      string                 `json:"name"`
	FilePath  string                 `json:"file_path"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// CommandStore persists the custom command registry in the commands
// database.
type CommandStore struct {
	store
}

// NewCommandStore opens (or creates) the commands database at dbPath.
func NewCommandStore(dbPath string) (*CommandStore, error) {
	base, err := openOwned(dbPath)
	if err != nil {
		return nil, err
	}
	s := &CommandStore{store: base}
	if err := s.initSchema(); err != nil {
		if closeErr := base.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize commands schema: %w", err)
	}
	return s, nil
}

// NewCommandStoreWithDB creates a command store over an existing
// writer/reader pair (shared ownership).
func NewCommandStoreWithDB(writer, reader *sqlx.DB) (*CommandStore, error) {
	s := &CommandStore{store: store{db: writer, ro: reader}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize commands schema: %w", err)
	}
	return s, nil
}

func (s *CommandStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS commands (
		name TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		metadata TEXT DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL
	);
	`)
	return err
}

// Upsert inserts a command or refreshes an existing one by name.
func (s *CommandStore) Upsert(ctx context.Context, cmd *CustomCommand) error {
	cmd.UpdatedAt = time.Now().UTC()

	metadata, err := json.Marshal(cmd.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (name, file_path, metadata, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			file_path = excluded.file_path,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, cmd.Name, cmd.FilePath, string(metadata), cmd.UpdatedAt)
	return err
}

// Get retrieves a command by name.
func (s *CommandStore) Get(ctx context.Context, name string) (*CustomCommand, error) {
	cmd := &CustomCommand{}
	var metadata string
	err := s.ro.QueryRowContext(ctx, `
		SELECT name, file_path, metadata, updated_at FROM commands WHERE name = ?
	`, name).Scan(&cmd.Name, &cmd.FilePath, &metadata, &cmd.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("command", name)
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(metadata), &cmd.Metadata)
	return cmd, nil
}

// List returns all commands sorted by name.
func (s *CommandStore) List(ctx context.Context) ([]*CustomCommand, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT name, file_path, metadata, updated_at FROM commands ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var commands []*CustomCommand
	for rows.Next() {
		cmd := &CustomCommand{}
		var metadata string
		if err := rows.Scan(&cmd.Name, &cmd.FilePath, &metadata, &cmd.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metadata), &cmd.Metadata)
		commands = append(commands, cmd)
	}
	return commands, rows.Err()
}

// Delete removes a command by name.
func (s *CommandStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE name = ?`, name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("command", name)
	}
	return nil
}
