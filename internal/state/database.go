package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database holding the frame inventory
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		if err := ensureDir(filepath.Dir(dbPath)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite serializes writers, and an in-memory database
	// only lives as long as its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if dbPath != ":memory:" {
		db.SetConnMaxLifetime(time.Hour)
	}

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

func (d *Database) initSchema() error {
	schema := `
	-- Key/value loop state (last cycle, last detection)
	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Frames currently persisted in the storage directory
	CREATE TABLE IF NOT EXISTS frames (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		analyzed BOOLEAN DEFAULT 0,
		detected BOOLEAN DEFAULT 0,
		archive_path TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_frames_captured ON frames(captured_at);
	CREATE INDEX IF NOT EXISTS idx_frames_detected ON frames(detected, captured_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
