package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

var sqliteDialect = dialect{
	upsertLink: `INSERT INTO sync_links (` + linkColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(entity_type, local_id) DO UPDATE SET
			  remote_id = excluded.remote_id,
			  natural_key = excluded.natural_key,
			  payload_hash = excluded.payload_hash,
			  last_synced_at = excluded.last_synced_at,
			  last_error = excluded.last_error,
			  updated_at = excluded.updated_at`,
	upsertValue: `INSERT INTO kv_store (k, v, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
}

// SQLiteStore keeps the ledger in a single local file.
type SQLiteStore struct {
	*sqlStore
}

// OpenSQLite creates or opens the database at path and applies the schema.
// Safe to call on an existing file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{sqlStore: newSQLStore(db, sqliteDialect)}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
