package database

import (
	"context"
	"fmt"
	"time"

	"safeping/internal/models"
)

// RegisterSync records an outstanding connectivity-restoration tag. Repeated
// registration of the same tag keeps the earliest registration time.
func (db *DB) RegisterSync(ctx context.Context, tag string) error {
	query := `INSERT INTO sync_registrations (tag, registered_at) VALUES (?, ?)
              ON CONFLICT(tag) DO NOTHING`
	if _, err := db.db.ExecContext(ctx, query, tag, time.Now()); err != nil {
		return fmt.Errorf("%w: register sync %s: %v", ErrWriteFailed, tag, err)
	}
	return nil
}

// PendingSyncTags returns the tags still waiting for connectivity.
func (db *DB) PendingSyncTags(ctx context.Context) ([]models.SyncRegistration, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT tag, registered_at FROM sync_registrations ORDER BY registered_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending sync tags: %w", err)
	}
	defer rows.Close()

	var regs []models.SyncRegistration
	for rows.Next() {
		var reg models.SyncRegistration
		if err := rows.Scan(&reg.Tag, &reg.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan sync registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// ClearSync drops a tag once its drain has fully succeeded. Clearing an
// unknown tag is a no-op.
func (db *DB) ClearSync(ctx context.Context, tag string) error {
	if _, err := db.db.ExecContext(ctx, `DELETE FROM sync_registrations WHERE tag = ?`, tag); err != nil {
		return fmt.Errorf("%w: clear sync %s: %v", ErrWriteFailed, tag, err)
	}
	return nil
}

// RecordAttempt bumps the failed-attempt counter for an item and returns the
// new count. The counter is advisory; the item itself stays untouched.
func (db *DB) RecordAttempt(ctx context.Context, id, lastError string) (int, error) {
	query := `INSERT INTO submission_attempts (id, attempts, last_error) VALUES (?, 1, ?)
              ON CONFLICT(id) DO UPDATE SET attempts = attempts + 1, last_error = excluded.last_error`
	if _, err := db.db.ExecContext(ctx, query, id, lastError); err != nil {
		return 0, fmt.Errorf("%w: record attempt %s: %v", ErrWriteFailed, id, err)
	}

	var attempts int
	if err := db.db.QueryRowContext(ctx, `SELECT attempts FROM submission_attempts WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read attempts %s: %w", id, err)
	}
	return attempts, nil
}

// RetireToDeadLetter moves an item out of its collection after its retry
// budget is spent. The move is transactional so the item is never in both
// places or neither.
func (db *DB) RetireToDeadLetter(ctx context.Context, collection models.Collection, item models.QueuedSubmission, attempts int, lastError string) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", ErrWriteFailed, collection)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin retire %s: %v", ErrWriteFailed, item.ID, err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO dead_letters (id, collection, data, auth_token, timestamp, attempts, last_error, retired_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, item.ID, string(collection), string(item.Data), item.AuthToken, item.Timestamp, attempts, lastError, time.Now()); err != nil {
		return fmt.Errorf("%w: retire %s: %v", ErrWriteFailed, item.ID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection), item.ID); err != nil {
		return fmt.Errorf("%w: retire delete %s: %v", ErrWriteFailed, item.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_attempts WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("%w: retire attempts %s: %v", ErrWriteFailed, item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit retire %s: %v", ErrWriteFailed, item.ID, err)
	}
	return nil
}

// DeadLetters returns retired submissions, newest first.
func (db *DB) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	query := `SELECT id, collection, data, auth_token, timestamp, attempts, last_error, retired_at
              FROM dead_letters ORDER BY retired_at DESC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	var letters []models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		var collection, data string
		var lastError *string
		if err := rows.Scan(&dl.ID, &collection, &data, &dl.AuthToken, &dl.Timestamp, &dl.Attempts, &lastError, &dl.RetiredAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.Collection = models.Collection(collection)
		dl.Data = []byte(data)
		if lastError != nil {
			dl.LastError = *lastError
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
