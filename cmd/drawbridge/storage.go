package main

import (
	"os"
	"path/filepath"

	"github.com/drawbridge/drawbridge/internal/common/config"
	"github.com/drawbridge/drawbridge/internal/db"
	storage "github.com/drawbridge/drawbridge/internal/storage/sqlite"
)

// stores bundles the embedded databases. Sessions, threads and commands
// each own a file; notification preferences and the emergency flag
// share settings.db over one writer/reader pool.
type stores struct {
	sessions  *storage.SessionStore
	threads   *storage.ThreadStore
	commands  *storage.CommandStore
	prefs     *storage.NotificationPrefStore
	emergency *storage.EmergencyStore

	settings *db.Pool
}

// openStores creates the data directory and opens every store. On
// failure the handles opened so far are released.
func openStores(cfg *config.Config) (*stores, error) {
	dataDir := cfg.DB.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	s := &stores{}
	var err error

	if s.sessions, err = storage.NewSessionStore(filepath.Join(dataDir, "sessions.db")); err != nil {
		return nil, err
	}
	if s.threads, err = storage.NewThreadStore(filepath.Join(dataDir, "threads.db")); err != nil {
		s.Close()
		return nil, err
	}
	if s.commands, err = storage.NewCommandStore(filepath.Join(dataDir, "commands.db")); err != nil {
		s.Close()
		return nil, err
	}

	if s.settings, err = db.OpenSQLitePool(filepath.Join(dataDir, "settings.db")); err != nil {
		s.Close()
		return nil, err
	}
	if s.prefs, err = storage.NewNotificationPrefStoreWithDB(s.settings.Writer(), s.settings.Reader()); err != nil {
		s.Close()
		return nil, err
	}
	if s.emergency, err = storage.NewEmergencyStoreWithDB(s.settings.Writer(), s.settings.Reader()); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases every database handle. Safe on a partially opened set;
// the prefs and emergency stores close through the shared settings pool.
func (s *stores) Close() {
	if s.sessions != nil {
		_ = s.sessions.Close()
	}
	if s.threads != nil {
		_ = s.threads.Close()
	}
	if s.commands != nil {
		_ = s.commands.Close()
	}
	if s.settings != nil {
		_ = s.settings.Close()
	}
}
