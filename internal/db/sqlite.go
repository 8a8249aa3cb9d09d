package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// busyTimeout bounds how long a connection waits on a locked
	// database before surfacing SQLITE_BUSY. Store writes are short,
	// so contention clears well inside this window.
	busyTimeout = 5 * time.Second

	// readerConns sizes the read-only pool. WAL snapshots let these
	// run alongside the single writer; the status API and catch-up
	// scans are the only concurrent readers.
	readerConns = 4
)

// openWriter opens the write side of a database file, creating the
// file and its directory when missing. WAL mode plus a one-connection
// cap serializes writes instead of bouncing them off SQLITE_BUSY.
func openWriter(path string) (*sql.DB, error) {
	abs := absPath(path)
	if err := touchDatabase(abs); err != nil {
		return nil, fmt.Errorf("failed to prepare database file: %w", err)
	}

	conn, err := sql.Open("sqlite3", writerDSN(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// openReader opens the read-only pool for a file the writer already
// created. Journal mode and synchronous level are database-level
// settings owned by the writer DSN, so they are not repeated here.
func openReader(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", readerDSN(absPath(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(readerConns)
	conn.SetMaxIdleConns(readerConns)
	return conn, nil
}

func writerDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_mode=rwc&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_cache=shared",
		path, int(busyTimeout/time.Millisecond),
	)
}

func readerDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_mode=ro&_foreign_keys=on&_busy_timeout=%d&_cache=shared",
		path, int(busyTimeout/time.Millisecond),
	)
}

// touchDatabase creates the parent directory and an empty database
// file so the read-only pool can open it before the first write.
func touchDatabase(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func absPath(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
