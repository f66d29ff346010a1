package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// messageColumns is the explicit column list scanned by scanMessage.
const messageColumns = `seq, id, conversation_id, sender_id, recipient_id, type, body, is_encrypted,
	media_url, media_name, media_mime, media_size, voice_duration_ms, reply_to_message_id, client_id,
	created_at, delivered_at, seen_at, deleted_for_everyone_at`

// messageColumnsAliased is the same but with m. prefix for JOINs.
const messageColumnsAliased = `m.seq, m.id, m.conversation_id, m.sender_id, m.recipient_id, m.type, m.body, m.is_encrypted,
	m.media_url, m.media_name, m.media_mime, m.media_size, m.voice_duration_ms, m.reply_to_message_id, m.client_id,
	m.created_at, m.delivered_at, m.seen_at, m.deleted_for_everyone_at`

// visibleTo restricts m to rows the participant p may see: not deleted for
// everyone and newer than the participant's soft-delete cursor.
const visibleTo = `m.deleted_for_everyone_at IS NULL AND (p.deleted_at IS NULL OR m.created_at > p.deleted_at)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (*Message, error) {
	var m Message
	err := s.Scan(
		&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Type, &m.Body, &m.IsEncrypted,
		&m.MediaURL, &m.MediaName, &m.MediaMime, &m.MediaSize, &m.VoiceDurationMs, &m.ReplyToMessageID, &m.ClientID,
		&m.CreatedAt, &m.DeliveredAt, &m.SeenAt, &m.DeletedForEveryoneAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// sortChronological orders messages by creation time, then insertion order.
func sortChronological(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// InsertMessage inserts m. It reports false without error when a message with
// the same (conversation, sender, client id) already exists.
func (db *DB) InsertMessage(ctx context.Context, m *Message) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, type, body, is_encrypted,
			media_url, media_name, media_mime, media_size, voice_duration_ms, reply_to_message_id, client_id,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, sender_id, client_id) WHERE client_id IS NOT NULL DO NOTHING`,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Type, m.Body, m.IsEncrypted,
		m.MediaURL, m.MediaName, m.MediaMime, m.MediaSize, m.VoiceDurationMs, m.ReplyToMessageID, m.ClientID,
		m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return true, nil
}

// GetMessage returns a message by ID regardless of visibility, or nil.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetMessageByClientID returns the message a sender created with clientID, or nil.
func (db *DB) GetMessageByClientID(ctx context.Context, conversationID, senderID, clientID string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND client_id = ?`,
		conversationID, senderID, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// VisibleMessage returns the message if userID participates in its
// conversation and may still see it, or nil.
func (db *DB) VisibleMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	return visibleMessage(ctx, db, messageID, userID)
}

// VisibleMessage is VisibleMessage inside the transaction.
func (tx *Tx) VisibleMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	return visibleMessage(ctx, tx, messageID, userID)
}

func visibleMessage(ctx context.Context, q querier, messageID, userID string) (*Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx, `
		SELECT `+messageColumnsAliased+`
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.id = ? AND `+visibleTo,
		userID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListVisibleMessages returns up to limit messages of a conversation visible
// to userID, older than the message beforeID when set, in chronological order.
func (db *DB) ListVisibleMessages(ctx context.Context, conversationID, userID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + messageColumnsAliased + `
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.conversation_id = ? AND ` + visibleTo
	args := []any{userID, conversationID}
	if beforeID != "" {
		q += ` AND (m.created_at, m.seq) < (SELECT created_at, seq FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}
	q += ` ORDER BY m.created_at DESC, m.seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	sortChronological(msgs)
	return msgs, nil
}

// MarkDelivered stamps delivered_at on the recipient's pending messages
// matching f and returns exactly the rows it changed. The delivered_at IS NULL
// guard makes concurrent or repeated calls update each row at most once.
func (db *DB) MarkDelivered(ctx context.Context, f DeliveredFilter, at int64) ([]Message, error) {
	if f.MessageIDs != nil && len(f.MessageIDs) == 0 {
		return nil, nil
	}
	q := `UPDATE messages SET delivered_at = ?
		WHERE recipient_id = ? AND deleted_for_everyone_at IS NULL AND delivered_at IS NULL`
	args := []any{at, f.RecipientID}
	if f.ConversationID != "" {
		q += ` AND conversation_id = ?`
		args = append(args, f.ConversationID)
	}
	if len(f.MessageIDs) > 0 {
		q += ` AND id IN (` + placeholders(len(f.MessageIDs)) + `)`
		for _, id := range f.MessageIDs {
			args = append(args, id)
		}
	}
	q += ` RETURNING ` + messageColumns

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	sortChronological(msgs)
	return msgs, nil
}

// MarkSeen stamps seen_at on the recipient's unseen messages in a conversation,
// backfilling delivered_at where it is still NULL. seen_at never precedes
// delivered_at. messageIDs nil means every unseen message in the conversation.
func (db *DB) MarkSeen(ctx context.Context, recipientID, conversationID string, messageIDs []string, at int64) ([]Message, error) {
	if messageIDs != nil && len(messageIDs) == 0 {
		return nil, nil
	}
	q := `UPDATE messages SET
			delivered_at = COALESCE(delivered_at, ?),
			seen_at = MAX(?, COALESCE(delivered_at, ?))
		WHERE recipient_id = ? AND conversation_id = ?
			AND deleted_for_everyone_at IS NULL AND seen_at IS NULL`
	args := []any{at, at, at, recipientID, conversationID}
	if len(messageIDs) > 0 {
		q += ` AND id IN (` + placeholders(len(messageIDs)) + `)`
		for _, id := range messageIDs {
			args = append(args, id)
		}
	}
	q += ` RETURNING ` + messageColumns

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	sortChronological(msgs)
	return msgs, nil
}

// CountUnread returns how many live messages addressed to recipientID are unseen.
func (db *DB) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = ? AND seen_at IS NULL AND deleted_for_everyone_at IS NULL`,
		recipientID).Scan(&n)
	return n, err
}

// DeleteForEveryone soft-deletes a message on behalf of its sender.
// It reports false when the message does not exist, belongs to someone else,
// or is already deleted.
func (db *DB) DeleteForEveryone(ctx context.Context, messageID, senderID string, at int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET deleted_for_everyone_at = ?
		WHERE id = ? AND sender_id = ? AND deleted_for_everyone_at IS NULL`,
		at, messageID, senderID)
	if err != nil {
		return false, fmt.Errorf("delete for everyone: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
