package store

import (
	"context"
	"fmt"
)

// UpsertPushSubscription stores a subscription, replacing keys and user agent
// when the (user, endpoint) pair already exists.
func (db *DB) UpsertPushSubscription(ctx context.Context, s PushSubscription) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_push_subscriptions (user_id, endpoint, p256dh, auth, user_agent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent,
			updated_at = excluded.updated_at`,
		s.UserID, s.Endpoint, s.P256dh, s.Auth, s.UserAgent, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

// ListPushSubscriptions returns every subscription of a user, oldest first.
func (db *DB) ListPushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, updated_at
		FROM user_push_subscriptions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []PushSubscription
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.UserAgent, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// DeletePushSubscription removes a user's subscription by endpoint.
func (db *DB) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM user_push_subscriptions WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	return err
}
