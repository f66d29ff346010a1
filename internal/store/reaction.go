package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetReaction returns the user's reaction to a message, or nil.
func (tx *Tx) GetReaction(ctx context.Context, messageID, userID string) (*Reaction, error) {
	var r Reaction
	err := tx.QueryRowContext(ctx, `
		SELECT message_id, user_id, emoji, updated_at FROM message_reactions
		WHERE message_id = ? AND user_id = ?`, messageID, userID).
		Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PutReaction inserts or replaces the user's reaction to a message.
func (tx *Tx) PutReaction(ctx context.Context, r Reaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id, user_id) DO UPDATE SET
			emoji = excluded.emoji,
			updated_at = excluded.updated_at`,
		r.MessageID, r.UserID, r.Emoji, r.UpdatedAt)
	return err
}

// DeleteReaction removes the user's reaction to a message.
func (tx *Tx) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?`, messageID, userID)
	return err
}

// ReactionCounts aggregates a message's reactions per emoji, most used first,
// ties broken by emoji. ReactedByMe marks the viewer's own emoji.
func (tx *Tx) ReactionCounts(ctx context.Context, messageID, viewerID string) ([]ReactionCount, error) {
	return reactionCounts(ctx, tx, messageID, viewerID)
}

// ReactionCounts is ReactionCounts outside a transaction.
func (db *DB) ReactionCounts(ctx context.Context, messageID, viewerID string) ([]ReactionCount, error) {
	return reactionCounts(ctx, db, messageID, viewerID)
}

func reactionCounts(ctx context.Context, q querier, messageID, viewerID string) ([]ReactionCount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT emoji, COUNT(*) AS n, MAX(user_id = ?) AS mine
		FROM message_reactions
		WHERE message_id = ?
		GROUP BY emoji
		ORDER BY n DESC, emoji ASC`, viewerID, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := []ReactionCount{}
	for rows.Next() {
		var c ReactionCount
		if err := rows.Scan(&c.Emoji, &c.Count, &c.ReactedByMe); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
