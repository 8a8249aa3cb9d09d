package db

import "github.com/jmoiron/sqlx"

// Pool provides separate read and write database connections.
//
// With WAL mode, this enables concurrent reads while serializing writes
// through a single connection. The writer pool uses MaxOpenConns(1) to
// avoid SQLITE_BUSY on write contention, while the reader pool allows
// multiple concurrent connections for SELECT queries.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// OpenSQLitePool opens writer and reader connections for the given database
// file and wraps them in a Pool.
func OpenSQLitePool(dbPath string) (*Pool, error) {
	writerDB, err := openWriter(dbPath)
	if err != nil {
		return nil, err
	}
	readerDB, err := openReader(dbPath)
	if err != nil {
		_ = writerDB.Close()
		return nil, err
	}
	return NewPool(sqlx.NewDb(writerDB, "sqlite3"), sqlx.NewDb(readerDB, "sqlite3")), nil
}

// Writer returns the connection pool used for INSERT, UPDATE, DELETE, and
// transactions. This is limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries. Multiple
// read-only connections can operate concurrently with the writer via WAL
// snapshots.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
