package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal schema versions, stored in PRAGMA user_version:
//
//	0 - calls table as created by schema.sql
//	1 - calls indexed by client for per-client traces
//	2 - args, result and schema fingerprint columns
const currentSchemaVersion = 2

// Store is the SQLite call journal.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating it when missing, and brings its
// schema up to date. Opening the same file again is harmless.
//
// The journal runs in WAL mode so `cpool trace` can read it while a worker
// appends. Writes use synchronous=NORMAL: losing the tail of a journal on
// power failure is acceptable. Lock waits give up after 5 seconds.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal %s: %w", path, err)
	}

	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configure(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("configure journal: %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the base table, then applies every step above the
// recorded user_version in order.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create journal tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read journal version: %w", err)
	}

	steps := []func(*sql.DB) error{migrateToV1, migrateToV2}
	for v := version; v < currentSchemaVersion; v++ {
		if err := steps[v](db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("write journal version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_calls_client
		ON calls(client_id, run_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("journal v1: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	for _, col := range []string{"args_digest", "result_digest", "db_fingerprint"} {
		stmt := fmt.Sprintf("ALTER TABLE calls ADD COLUMN %s TEXT NOT NULL DEFAULT ''", col)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal v2: %w", err)
		}
	}
	return nil
}

// pragma returns the current value of a pragma. Tests use it.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
