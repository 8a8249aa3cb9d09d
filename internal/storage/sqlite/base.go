// Package sqlite provides the broker's embedded persistence stores.
// Each store owns one schema and lives in its own database file, with
// the exception of notification preferences and the emergency flag,
// which share the settings database.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/drawbridge/drawbridge/internal/db"
)

// store carries the writer/reader pair shared by every concrete store.
// pool is set only when the store opened its own database file and is
// therefore responsible for closing it.
type store struct {
	db   *sqlx.DB // writer (single-connection WAL pool)
	ro   *sqlx.DB // reader (read-only pool)
	pool *db.Pool
}

// Close releases the underlying pool when the store owns it. Stores
// constructed over a shared pool leave closing to the pool's owner.
func (s *store) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// openOwned opens a WAL writer/reader pool for dbPath and returns the
// store scaffolding that owns it.
func openOwned(dbPath string) (store, error) {
	pool, err := db.OpenSQLitePool(dbPath)
	if err != nil {
		return store{}, err
	}
	return store{db: pool.Writer(), ro: pool.Reader(), pool: pool}, nil
}
