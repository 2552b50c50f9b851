package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriver owns the SQLite connection and schema for the backend.
type SQLiteDriver struct {
	db   *sql.DB
	path string
}

// NewSQLiteDriver opens (and creates, if needed) the database at dbPath.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Enable foreign keys and WAL mode for better performance
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	return &SQLiteDriver{
		db:   db,
		path: dbPath,
	}, nil
}

// DB returns the underlying *sql.DB connection
func (d *SQLiteDriver) DB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *SQLiteDriver) Path() string {
	return d.path
}

// Close closes the database connection
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// Initialize sets up the database schema
func (d *SQLiteDriver) Initialize(ctx context.Context) error {
	schema := `
	-- Registered accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	-- Chat history
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		chat_id TEXT,
		role TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
		text TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		meta TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_username ON messages(username);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts DESC);

	-- Long-term memory records; embedding is an L2-normalized
	-- float32 vector stored as a BLOB
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		text TEXT NOT NULL,
		tags TEXT DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		embedding BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_owner_created_at ON memories(owner, created_at DESC);
	`

	_, err := d.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
