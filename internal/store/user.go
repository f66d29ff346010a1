package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertUser creates a user or renames an existing one.
func (db *DB) UpsertUser(ctx context.Context, id, username string, at int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username`,
		id, username, at)
	return err
}

// Username returns the user's display name, or "" if unknown.
func (db *DB) Username(ctx context.Context, userID string) (string, error) {
	var name string
	err := db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// ReadReceiptsEnabled reports the user's read-receipt setting. Users without a
// settings row have read receipts enabled.
func (db *DB) ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := db.QueryRowContext(ctx,
		`SELECT read_receipts_enabled FROM user_settings WHERE user_id = ?`, userID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return enabled, err
}

// SetReadReceipts stores the user's read-receipt setting.
func (db *DB) SetReadReceipts(ctx context.Context, userID string, enabled bool, at int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, read_receipts_enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			read_receipts_enabled = excluded.read_receipts_enabled,
			updated_at = excluded.updated_at`,
		userID, enabled, at)
	return err
}

// Block records that blocker blocks blocked.
func (db *DB) Block(ctx context.Context, blockerID, blockedID string, at int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_blocks (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`, blockerID, blockedID, at)
	return err
}

// Unblock removes a block.
func (db *DB) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM user_blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	return err
}

// IsBlocked reports whether either user blocks the other.
func (db *DB) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	return isBlocked(ctx, db, a, b)
}

// IsBlocked is IsBlocked inside the transaction.
func (tx *Tx) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	return isBlocked(ctx, tx, a, b)
}

func isBlocked(ctx context.Context, q querier, a, b string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_blocks
		WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)`,
		a, b, b, a).Scan(&n)
	return n > 0, err
}
