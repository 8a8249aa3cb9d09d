package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// EmergencyStatus is the persisted emergency-mode flag.
type EmergencyStatus int

const (
	// EmergencyNormal is the default gating mode: destructive operations
	// wait for approval, safe ones pass through.
	EmergencyNormal EmergencyStatus = 0
	// EmergencyActive marks safe operations as auto-approved. Destructive
	// operations are gated in both modes.
	EmergencyActive EmergencyStatus = 1
)

// String renders the status the way the command surface displays it.
func (s EmergencyStatus) String() string {
	if s == EmergencyActive {
		return "EMERGENCY"
	}
	return "NORMAL"
}

// EmergencyState is the singleton emergency-mode record. ActivatedAt
// and ActivatedByThread are nil while the mode is NORMAL and keep
// their original values across repeated activations.
type EmergencyState struct {
	Status            EmergencyStatus `json:"status"`
	ActivatedAt       *time.Time      `json:"activated_at,omitempty"`
	ActivatedByThread *string         `json:"activated_by_thread,omitempty"`
}

// EmergencyStore persists the emergency singleton in the settings
// database. The schema seeds the row, so Get never misses.
type EmergencyStore struct {
	store
}

// NewEmergencyStore opens (or creates) the settings database at dbPath
// for emergency state storage.
func NewEmergencyStore(dbPath string) (*EmergencyStore, error) {
	base, err := openOwned(dbPath)
	if err != nil {
		return nil, err
	}
	s := &EmergencyStore{store: base}
	if err := s.initSchema(); err != nil {
		if closeErr := base.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize emergency schema: %w", err)
	}
	return s, nil
}

// NewEmergencyStoreWithDB creates an emergency store over an existing
// writer/reader pair (shared ownership).
func NewEmergencyStoreWithDB(writer, reader *sqlx.DB) (*EmergencyStore, error) {
	s := &EmergencyStore{store: store{db: writer, ro: reader}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize emergency schema: %w", err)
	}
	return s, nil
}

func (s *EmergencyStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS emergency_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		status INTEGER NOT NULL DEFAULT 0,
		activated_at TIMESTAMP,
		activated_by_thread TEXT
	);

	INSERT OR IGNORE INTO emergency_state (id, status) VALUES (1, 0);
	`)
	return err
}

// Get returns the current emergency state.
func (s *EmergencyStore) Get(ctx context.Context) (*EmergencyState, error) {
	state := &EmergencyState{}
	var activatedAt sql.NullTime
	var activatedBy sql.NullString
	err := s.ro.QueryRowContext(ctx, `
		SELECT status, activated_at, activated_by_thread FROM emergency_state WHERE id = 1
	`).Scan(&state.Status, &activatedAt, &activatedBy)
	if err != nil {
		return nil, err
	}
	if activatedAt.Valid {
		state.ActivatedAt = &activatedAt.Time
	}
	if activatedBy.Valid {
		state.ActivatedByThread = &activatedBy.String
	}
	return state, nil
}

// Set replaces the emergency state. Nil pointers persist as NULL.
func (s *EmergencyStore) Set(ctx context.Context, state *EmergencyState) error {
	var activatedAt sql.NullTime
	if state.ActivatedAt != nil {
		activatedAt = sql.NullTime{Time: state.ActivatedAt.UTC(), Valid: true}
	}
	var activatedBy sql.NullString
	if state.ActivatedByThread != nil {
		activatedBy = sql.NullString{String: *state.ActivatedByThread, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE emergency_state SET status = ?, activated_at = ?, activated_by_thread = ? WHERE id = 1
	`, state.Status, activatedAt, activatedBy)
	return err
}
