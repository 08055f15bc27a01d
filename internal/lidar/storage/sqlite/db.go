// Package sqlite persists odometry runs and per-scan poses to a local
// SQLite database. The schema is managed with golang-migrate; see the
// migrations directory at the repository root.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the odometry trace database connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the trace database at path and applies the
// connection pragmas. Run MigrateUp before first use.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL keeps the association worker's inserts from blocking monitor
	// reads; the busy timeout covers migration races at startup.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}
