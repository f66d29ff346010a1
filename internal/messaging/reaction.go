package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"go.uber.org/zap"
)

// MaxEmojiBytes bounds a reaction emoji, which may be a multi-codepoint sequence.
const MaxEmojiBytes = 32

// ReactionAction is what a toggle did to the caller's reaction.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
	ReactionUpdated ReactionAction = "updated"
)

// ToggleInput identifies the reaction to toggle.
type ToggleInput struct {
	MessageID string
	UserID    string
	Emoji     string
}

// ReactionResult is the outcome of a toggle with the message's new aggregate.
type ReactionResult struct {
	MessageID      string
	ConversationID string
	Reactions      []store.ReactionCount
	Action         ReactionAction
	Emoji          string
}

// ReactionLedger toggles per-user emoji reactions on messages.
type ReactionLedger struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewReactionLedger creates a ledger over db.
func NewReactionLedger(db *store.DB, b *bus.Bus, logger *zap.Logger) *ReactionLedger {
	return &ReactionLedger{db: db, bus: b, logger: logger, now: time.Now}
}

// Toggle adds, removes or replaces the caller's reaction in one transaction.
// Reacting twice with the same emoji removes it.
func (l *ReactionLedger) Toggle(ctx context.Context, in ToggleInput) (*ReactionResult, error) {
	emoji := strings.TrimSpace(in.Emoji)
	if emoji == "" || len(emoji) > MaxEmojiBytes {
		return nil, validationf("emoji must be 1 to %d bytes", MaxEmojiBytes)
	}

	var (
		result       ReactionResult
		participants []string
	)
	err := l.db.WithTx(ctx, func(tx *store.Tx) error {
		msg, err := tx.VisibleMessage(ctx, in.MessageID, in.UserID)
		if err != nil {
			return fmt.Errorf("lookup message: %w", err)
		}
		if msg == nil {
			return ErrNotFound
		}

		participants, err = tx.ListParticipants(ctx, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if other := otherParticipant(participants, in.UserID); other != "" {
			blocked, err := tx.IsBlocked(ctx, in.UserID, other)
			if err != nil {
				return fmt.Errorf("check block: %w", err)
			}
			if blocked {
				return ErrBlocked
			}
		}

		existing, err := tx.GetReaction(ctx, in.MessageID, in.UserID)
		if err != nil {
			return fmt.Errorf("lookup reaction: %w", err)
		}

		switch {
		case existing == nil:
			result.Action = ReactionAdded
		case existing.Emoji == emoji:
			result.Action = ReactionRemoved
		default:
			result.Action = ReactionUpdated
		}

		if result.Action == ReactionRemoved {
			err = tx.DeleteReaction(ctx, in.MessageID, in.UserID)
		} else {
			err = tx.PutReaction(ctx, store.Reaction{
				MessageID: in.MessageID,
				UserID:    in.UserID,
				Emoji:     emoji,
				UpdatedAt: l.now().UnixMilli(),
			})
		}
		if err != nil {
			return fmt.Errorf("write reaction: %w", err)
		}

		result.Reactions, err = tx.ReactionCounts(ctx, in.MessageID, in.UserID)
		if err != nil {
			return fmt.Errorf("aggregate reactions: %w", err)
		}
		result.MessageID = msg.ID
		result.ConversationID = msg.ConversationID
		result.Emoji = emoji
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.bus.Emit(bus.KindReactionToggled, ReactionToggled{ActorID: in.UserID, Result: result, Participants: participants})
	l.logger.Debug("reaction toggled",
		zap.String("message_id", result.MessageID),
		zap.String("action", string(result.Action)))
	return &result, nil
}
