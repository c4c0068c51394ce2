package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is the single durable store behind the registry, the chunk store, the
// vector partitions and the job manager.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partitions (
		kb_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		name TEXT NOT NULL UNIQUE,
		dimensions INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kb_id, provider)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		kb_id TEXT NOT NULL,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kb_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_filename ON chunks(kb_id, filename, chunk_index);

	CREATE TABLE IF NOT EXISTS embeddings (
		kb_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (kb_id, provider, chunk_id)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		params TEXT NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	_, err := db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(prefix []interface{}, ss []string) []interface{} {
	args := make([]interface{}, 0, len(prefix)+len(ss))
	args = append(args, prefix...)
	for _, s := range ss {
		args = append(args, s)
	}
	return args
}
