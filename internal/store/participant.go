package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateConversation creates a conversation with the given participants.
func (db *DB) CreateConversation(ctx context.Context, id string, userIDs []string, at int64) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, created_at) VALUES (?, ?)`, id, at); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, uid := range userIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, id, uid, at); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

// IsParticipant reports whether userID belongs to the conversation.
func (db *DB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return isParticipant(ctx, db, conversationID, userID)
}

// IsParticipant is IsParticipant inside the transaction.
func (tx *Tx) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return isParticipant(ctx, tx, conversationID, userID)
}

func isParticipant(ctx context.Context, q querier, conversationID, userID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListParticipants returns the distinct user ids of a conversation.
func (db *DB) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return listParticipants(ctx, db, conversationID)
}

// ListParticipants is ListParticipants inside the transaction.
func (tx *Tx) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return listParticipants(ctx, tx, conversationID)
}

func listParticipants(ctx context.Context, q querier, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateReadCursor records the last message the user has read in a conversation.
func (db *DB) UpdateReadCursor(ctx context.Context, conversationID, userID, messageID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversation_participants SET last_read_message_id = ?
		WHERE conversation_id = ? AND user_id = ?`, messageID, conversationID, userID)
	return err
}

// ReadCursor returns the participant's last read message id, or "".
func (db *DB) ReadCursor(ctx context.Context, conversationID, userID string) (string, error) {
	var id sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT last_read_message_id FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id.String, err
}

// HideConversation sets the participant's soft-delete cursor. Messages created
// at or before at are no longer visible to that participant.
func (db *DB) HideConversation(ctx context.Context, conversationID, userID string, at int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversation_participants SET deleted_at = ?
		WHERE conversation_id = ? AND user_id = ?`, at, conversationID, userID)
	return err
}
