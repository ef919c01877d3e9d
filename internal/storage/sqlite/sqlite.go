// Package sqlite persists dataset snapshots and fit results in a SQLite
// database, decoupling the reduction stage from later fitting runs.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path. Schema management is left to
// the migration layer; callers run MigrateUp before using the stores.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// Serialized writers; snapshot blobs are large and writes are rare.
	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite database: %w", err)
	}
	return &DB{db}, nil
}
