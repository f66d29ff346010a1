package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversationAccess answers membership questions and owns the read cursor.
type ConversationAccess interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	UpdateReadCursor(ctx context.Context, conversationID, userID, messageID string) error
}

// BlockPolicy reports whether either user has blocked the other.
type BlockPolicy interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// Settings exposes the per-user preferences the lifecycle depends on.
type Settings interface {
	ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error)
}

// Service owns the message lifecycle: creation, history, delivery and seen
// transitions. Domain events are published on the bus after each write.
type Service struct {
	db       *store.DB
	access   ConversationAccess
	blocks   BlockPolicy
	settings Settings
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service backed by db for both storage and collaborators.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		access:   db,
		blocks:   db,
		settings: db,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateInput describes a message to create. Optional fields are nil when absent.
type CreateInput struct {
	ConversationID   string
	SenderID         string
	Type             store.MessageType
	Body             *string
	IsEncrypted      bool
	MediaURL         *string
	MediaName        *string
	MediaMime        *string
	MediaSize        *int64
	VoiceDurationMs  *int64
	ReplyToMessageID *string
	ClientID         *string
}

// Create stores a new message from the sender to the other participant.
// When ClientID matches a message the sender already created in this
// conversation, that message is returned unchanged and created is false.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Message, bool, error) {
	msg, err := s.validate(in)
	if err != nil {
		return nil, false, err
	}

	recipient, err := s.resolveRecipient(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, false, err
	}
	msg.RecipientID = recipient

	if msg.ClientID != nil {
		existing, err := s.db.GetMessageByClientID(ctx, in.ConversationID, in.SenderID, *msg.ClientID)
		if err != nil {
			return nil, false, fmt.Errorf("lookup client id: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	if msg.ReplyToMessageID != nil {
		parent, err := s.db.VisibleMessage(ctx, *msg.ReplyToMessageID, in.SenderID)
		if err != nil {
			return nil, false, fmt.Errorf("lookup reply target: %w", err)
		}
		if parent == nil || parent.ConversationID != in.ConversationID {
			return nil, false, validationf("reply target %q not found in conversation", *msg.ReplyToMessageID)
		}
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now().UnixMilli()

	inserted, err := s.db.InsertMessage(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// Lost a race with a concurrent retry carrying the same client id.
		existing, err := s.db.GetMessageByClientID(ctx, in.ConversationID, in.SenderID, *msg.ClientID)
		if err != nil {
			return nil, false, fmt.Errorf("lookup client id: %w", err)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("message %s not inserted", msg.ID)
		}
		return existing, false, nil
	}

	s.bus.Emit(bus.KindMessageCreated, MessageCreated{Message: *msg})
	return msg, true, nil
}

// validate normalizes the input into a message row without touching storage.
func (s *Service) validate(in CreateInput) (*store.Message, error) {
	if !in.Type.Valid() {
		return nil, validationf("unsupported message type %q", in.Type)
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, validationf("conversation and sender are required")
	}

	msg := &store.Message{
		ConversationID:   in.ConversationID,
		SenderID:         in.SenderID,
		Type:             in.Type,
		IsEncrypted:      in.IsEncrypted,
		MediaName:        trimmedOrNil(in.MediaName),
		MediaMime:        trimmedOrNil(in.MediaMime),
		MediaSize:        in.MediaSize,
		VoiceDurationMs:  in.VoiceDurationMs,
		ReplyToMessageID: trimmedOrNil(in.ReplyToMessageID),
		ClientID:         trimmedOrNil(in.ClientID),
	}

	if in.Body != nil {
		body := sanitizeBody(*in.Body, in.IsEncrypted)
		switch {
		case in.IsEncrypted && len(body) > MaxEnvelopeBytes:
			return nil, validationf("encrypted body exceeds %d bytes", MaxEnvelopeBytes)
		case !in.IsEncrypted && utf8.RuneCountInString(body) > MaxBodyRunes:
			return nil, validationf("body exceeds %d characters", MaxBodyRunes)
		}
		if body != "" {
			msg.Body = &body
		}
	}

	if in.Type.IsMedia() {
		msg.MediaURL = trimmedOrNil(in.MediaURL)
		if msg.MediaURL == nil {
			return nil, validationf("%s message requires a media url", in.Type)
		}
	} else if msg.Body == nil {
		return nil, validationf("text message requires a body")
	}
	return msg, nil
}

// resolveRecipient checks the sender may write to the conversation and
// returns the other participant.
func (s *Service) resolveRecipient(ctx context.Context, conversationID, senderID string) (string, error) {
	ok, err := s.access.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return "", fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return "", ErrAccessDenied
	}

	participants, err := s.access.ListParticipants(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("list participants: %w", err)
	}
	recipient := otherParticipant(participants, senderID)
	if recipient == "" {
		return "", validationf("conversation %s has no other participant", conversationID)
	}

	blocked, err := s.blocks.IsBlocked(ctx, senderID, recipient)
	if err != nil {
		return "", fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return "", ErrBlocked
	}
	return recipient, nil
}

func otherParticipant(participants []string, userID string) string {
	for _, p := range participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// MessagePage is a page of history in chronological order.
type MessagePage struct {
	Messages []store.Message
	HasMore  bool
}

// List returns the user's visible history of a conversation, newest page
// first. before is the id of the oldest message the caller already has.
func (s *Service) List(ctx context.Context, userID, conversationID, before string, limit int) (*MessagePage, error) {
	ok, err := s.access.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if before != "" {
		cursor, err := s.db.VisibleMessage(ctx, before, userID)
		if err != nil {
			return nil, fmt.Errorf("lookup cursor: %w", err)
		}
		if cursor == nil || cursor.ConversationID != conversationID {
			return nil, ErrNotFound
		}
	}

	msgs, err := s.db.ListVisibleMessages(ctx, conversationID, userID, before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		// Rows are chronological; the extra one is the oldest.
		msgs = msgs[1:]
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return &MessagePage{Messages: msgs, HasMore: hasMore}, nil
}

// DeliveredInput selects which of the recipient's pending messages to mark.
// A nil MessageIDs means no id filter.
type DeliveredInput struct {
	RecipientID    string
	MessageIDs     []string
	ConversationID string
}

// MarkDelivered stamps deliveredAt on the recipient's pending messages and
// returns only the rows this call changed.
func (s *Service) MarkDelivered(ctx context.Context, in DeliveredInput) ([]store.Message, error) {
	if in.RecipientID == "" {
		return nil, validationf("recipient is required")
	}
	if in.ConversationID != "" {
		ok, err := s.access.IsParticipant(ctx, in.ConversationID, in.RecipientID)
		if err != nil {
			return nil, fmt.Errorf("check participant: %w", err)
		}
		if !ok {
			return nil, ErrAccessDenied
		}
	}

	updated, err := s.db.MarkDelivered(ctx, store.DeliveredFilter{
		RecipientID:    in.RecipientID,
		MessageIDs:     in.MessageIDs,
		ConversationID: in.ConversationID,
	}, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	if len(updated) > 0 {
		s.bus.Emit(bus.KindMessageDelivered, MessagesDelivered{RecipientID: in.RecipientID, Messages: updated})
	}
	return updated, nil
}

// SeenInput selects which unseen messages of a conversation to mark.
// A nil MessageIDs means every unseen message.
type SeenInput struct {
	RecipientID    string
	ConversationID string
	MessageIDs     []string
}

// MarkSeen stamps seenAt (and deliveredAt where missing) on the recipient's
// unseen messages. With read receipts disabled it writes nothing and
// returns an empty list.
func (s *Service) MarkSeen(ctx context.Context, in SeenInput) ([]store.Message, error) {
	if in.RecipientID == "" || in.ConversationID == "" {
		return nil, validationf("recipient and conversation are required")
	}

	enabled, err := s.settings.ReadReceiptsEnabled(ctx, in.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("read receipts setting: %w", err)
	}
	if !enabled {
		return []store.Message{}, nil
	}

	ok, err := s.access.IsParticipant(ctx, in.ConversationID, in.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	updated, err := s.db.MarkSeen(ctx, in.RecipientID, in.ConversationID, in.MessageIDs, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return []store.Message{}, nil
	}

	last := updated[len(updated)-1]
	if err := s.access.UpdateReadCursor(ctx, in.ConversationID, in.RecipientID, last.ID); err != nil {
		// Seen stamps are already committed.
		s.logger.Error("failed to update read cursor", zap.Error(err),
			zap.String("conversation_id", in.ConversationID), zap.String("message_id", last.ID))
	}

	s.bus.Emit(bus.KindMessageSeen, MessagesSeen{
		RecipientID:    in.RecipientID,
		ConversationID: in.ConversationID,
		Messages:       updated,
	})
	return updated, nil
}

// CountUnread returns the number of live messages the recipient has not seen.
func (s *Service) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return s.db.CountUnread(ctx, recipientID)
}

// DeleteForEveryone hides a message from both participants. Only the sender
// may do this.
func (s *Service) DeleteForEveryone(ctx context.Context, userID, messageID string) error {
	msg, err := s.db.VisibleMessage(ctx, messageID, userID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if msg == nil {
		return ErrNotFound
	}
	if msg.SenderID != userID {
		return ErrAccessDenied
	}
	ok, err := s.db.DeleteForEveryone(ctx, messageID, userID, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
