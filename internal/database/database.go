package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"safeping/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Error taxonomy for the durable store. Callers match with errors.Is.
var (
	// ErrStoreUnavailable means the store could not be opened or upgraded.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrWriteFailed means a write transaction aborted; item state unchanged.
	ErrWriteFailed = errors.New("write failed")
)

// DB is the durable store backing the offline queues. Each operation is an
// independent atomic transaction; handlers interleave freely against it.
type DB struct {
	db *sql.DB
}

// Open opens the store at path, creating or upgrading the schema as needed.
// The upgrade is re-entrant: every statement is IF NOT EXISTS, so opening an
// already-upgraded store changes nothing.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStoreUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: upgrade: %v", ErrStoreUnavailable, err)
	}

	return &DB{db: db}, nil
}

func createSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_checkins (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            auth_token TEXT NOT NULL,
            timestamp INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS pending_emergencies (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            auth_token TEXT NOT NULL,
            timestamp INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_registrations (
            tag TEXT PRIMARY KEY,
            registered_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS submission_attempts (
            id TEXT PRIMARY KEY,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id TEXT PRIMARY KEY,
            collection TEXT NOT NULL,
            data TEXT NOT NULL,
            auth_token TEXT NOT NULL,
            timestamp INTEGER NOT NULL,
            attempts INTEGER NOT NULL,
            last_error TEXT,
            retired_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_pending_checkins_timestamp ON pending_checkins(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_emergencies_timestamp ON pending_emergencies(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_collection ON dead_letters(collection)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// Enqueue appends a submission to a collection. The id is generated when
// absent. The stored item is immutable; it leaves only via Remove.
func (db *DB) Enqueue(ctx context.Context, collection models.Collection, item *models.QueuedSubmission) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", ErrWriteFailed, collection)
	}
	if item.ID == "" {
		item.ID = models.NewSubmissionID(time.Now())
	}
	if item.Timestamp == 0 {
		item.Timestamp = time.Now().UnixMilli()
	}
	if len(item.Data) == 0 {
		item.Data = json.RawMessage("{}")
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data, auth_token, timestamp) VALUES (?, ?, ?, ?)`, collection)
	if _, err := db.db.ExecContext(ctx, query, item.ID, string(item.Data), item.AuthToken, item.Timestamp); err != nil {
		return fmt.Errorf("%w: enqueue into %s: %v", ErrWriteFailed, collection, err)
	}
	return nil
}

// ListAll returns every item in a collection. No ordering is guaranteed;
// callers that care sort by Timestamp themselves.
func (db *DB) ListAll(ctx context.Context, collection models.Collection) ([]models.QueuedSubmission, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	query := fmt.Sprintf(`SELECT id, data, auth_token, timestamp FROM %s`, collection)
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var items []models.QueuedSubmission
	for rows.Next() {
		var item models.QueuedSubmission
		var data string
		if err := rows.Scan(&item.ID, &data, &item.AuthToken, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		item.Data = json.RawMessage(data)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return items, nil
}

// Remove deletes one item by id. Removing an absent id is a no-op, not an
// error; concurrent drains may race on the same item.
func (db *DB) Remove(ctx context.Context, collection models.Collection, id string) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", ErrWriteFailed, collection)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection)
	if _, err := db.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%w: remove from %s: %v", ErrWriteFailed, collection, err)
	}
	// Attempt bookkeeping for the id is no longer needed.
	_, _ = db.db.ExecContext(ctx, `DELETE FROM submission_attempts WHERE id = ?`, id)
	return nil
}

// Count returns the number of items in a collection.
func (db *DB) Count(ctx context.Context, collection models.Collection) (int, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, collection)
	if err := db.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return count, nil
}

// Ping reports whether the underlying store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
