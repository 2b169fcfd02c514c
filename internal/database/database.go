// Package database opens SQLite databases for the database reader and writer.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// DriverName is the database/sql driver used by the runtime.
const DriverName = "sqlite3"

const defaultBusyTimeout = 5 * time.Second

// Errors returned while resolving the database location.
var (
	ErrMissingPath  = errors.New("database path is required (path or pathRef)")
	ErrPathRefUnset = errors.New("database pathRef environment variable is not set")
)

// Config describes a SQLite database.
type Config struct {
	// Path is the database file (":memory:" for an in-memory database)
	Path string
	// PathRef names an environment variable holding the path; used when Path is empty
	PathRef string
	// BusyTimeout bounds lock waits (default 5s)
	BusyTimeout time.Duration
}

// ResolvePath returns the configured path, expanding PathRef.
func (c Config) ResolvePath() (string, error) {
	if c.Path != "" {
		return c.Path, nil
	}
	if c.PathRef == "" {
		return "", ErrMissingPath
	}
	path, ok := os.LookupEnv(c.PathRef)
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s", ErrPathRefUnset, c.PathRef)
	}
	return path, nil
}

// Open opens and pings the database and applies the connection pragmas.
//
// The database is configured with:
//   - WAL journal mode (skipped for in-memory databases)
//   - NORMAL synchronous mode
//   - a busy timeout for lock contention
//   - foreign key enforcement
func Open(cfg Config) (*sql.DB, error) {
	path, err := cfg.ResolvePath()
	if err != nil {
		return nil, NewConnectionError(err.Error(), err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, NewConnectionError("failed to open database", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ClassifyDatabaseError(err, "connect", "", 0)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, cfg, path); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB, cfg Config, path string) error {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}

	pragmas := make([]string, 0, 4)
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	pragmas = append(pragmas,
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", timeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return ClassifyDatabaseError(err, "pragma", pragma, 0)
		}
	}
	return nil
}

// QuoteIdentifier quotes a table or column name for SQLite.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
