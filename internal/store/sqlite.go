// Package store is the local SQLite cache of messages, read watermarks and
// notifications used to warm-start a session.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/soyeahso/minichat/internal/logging"
)

// MemoryPath opens a throwaway cache that lives as long as the DB.
const MemoryPath = ":memory:"

// cachePragmas apply to every cache. The session loop is the only writer;
// the busy timeout covers a second process (a CLI command) reading the
// same file while a session is writing.
var cachePragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// filePragmas apply to on-disk caches only. The cache can be rebuilt from
// the server, so synchronous=NORMAL trades durability of the last few
// writes for fewer fsyncs.
var filePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
}

// DB is an open cache database with its schema migrated.
type DB struct {
	sql  *sql.DB
	path string
	log  *logging.Logger
}

// Open opens the cache at path, creating it and its directory if needed,
// and brings the schema up to date. Pass MemoryPath for a cache that is
// never written to disk.
func Open(path string, log *logging.Logger) (*DB, error) {
	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}
	// One connection: pragmas are per connection, and an in-memory
	// database is private to the connection that created it.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB, path: path, log: log.Sub("store")}

	pragmas := cachePragmas
	if !inMemory {
		pragmas = append(pragmas[:len(pragmas):len(pragmas)], filePragmas...)
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("configuring cache (%s): %w", p, err)
		}
	}

	version, err := db.migrate()
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating cache %s: %w", path, err)
	}

	db.log.Debug().Str("path", path).Int("schema", version).Msg("cache opened")
	return db, nil
}

// Close closes the cache.
func (db *DB) Close() error {
	db.log.Debug().Str("path", db.path).Msg("closing cache")
	return db.sql.Close()
}

// SQL exposes the underlying handle.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// SchemaVersion reports the newest applied migration, 0 for an empty cache.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate applies every migration newer than the cache's schema version,
// each in its own transaction, and returns the resulting version.
func (db *DB) migrate() (int, error) {
	if _, err := db.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return 0, err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return current, err
		}
		current = m.Version
	}
	return current, nil
}

func (db *DB) apply(m migration) (err error) {
	db.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", m.Version, err)
	}
	return nil
}
