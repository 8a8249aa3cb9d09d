package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationPrefStore persists per-thread notification toggles in
// the settings database. A missing row means the caller should fall
// back to the event category's default.
type NotificationPrefStore struct {
	store
}

// NewNotificationPrefStore opens (or creates) the settings database at
// dbPath for preference storage.
func NewNotificationPrefStore(dbPath string) (*NotificationPrefStore, error) {
	base, err := openOwned(dbPath)
	if err != nil {
		return nil, err
	}
	s := &NotificationPrefStore{store: base}
	if err := s.initSchema(); err != nil {
		if closeErr := base.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize notification prefs schema: %w", err)
	}
	return s, nil
}

// NewNotificationPrefStoreWithDB creates a preference store over an
// existing writer/reader pair (shared ownership).
func NewNotificationPrefStoreWithDB(writer, reader *sqlx.DB) (*NotificationPrefStore, error) {
	s := &NotificationPrefStore{store: store{db: writer, ro: reader}}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize notification prefs schema: %w", err)
	}
	return s, nil
}

func (s *NotificationPrefStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS notification_prefs (
		thread_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (thread_id, event_type)
	);
	`)
	return err
}

// Set records an explicit toggle for (thread, event type).
func (s *NotificationPrefStore) Set(ctx context.Context, threadID, eventType string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_prefs (thread_id, event_type, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id, event_type) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, threadID, eventType, enabledInt, time.Now().UTC())
	return err
}

// Get looks up an explicit toggle. found is false when the pair has
// never been set.
func (s *NotificationPrefStore) Get(ctx context.Context, threadID, eventType string) (enabled bool, found bool, err error) {
	var enabledInt int
	err = s.ro.QueryRowContext(ctx, `
		SELECT enabled FROM notification_prefs WHERE thread_id = ? AND event_type = ?
	`, threadID, eventType).Scan(&enabledInt)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return enabledInt != 0, true, nil
}

// ListForThread returns every explicit toggle recorded for a thread.
func (s *NotificationPrefStore) ListForThread(ctx context.Context, threadID string) (map[string]bool, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT event_type, enabled FROM notification_prefs WHERE thread_id = ? ORDER BY event_type
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	prefs := make(map[string]bool)
	for rows.Next() {
		var eventType string
		var enabledInt int
		if err := rows.Scan(&eventType, &enabledInt); err != nil {
			return nil, err
		}
		prefs[eventType] = enabledInt != 0
	}
	return prefs, rows.Err()
}
