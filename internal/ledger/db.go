// Package ledger persists attendance records in SQLite.
package ledger

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the attendance database handle.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the attendance database at path.
// Use ":memory:" for an ephemeral database in tests.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite only supports one writer; serialise at the pool level so
	// concurrent marks queue instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}

	return &DB{db}, nil
}
