package api

import (
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/store"
)

type messageResponse struct {
	ID                   string  `json:"id"`
	ConversationID       string  `json:"conversationId"`
	SenderID             string  `json:"senderId"`
	RecipientID          string  `json:"recipientId"`
	Type                 string  `json:"type"`
	Body                 *string `json:"body"`
	IsEncrypted          bool    `json:"isEncrypted"`
	MediaURL             *string `json:"mediaUrl,omitempty"`
	MediaName            *string `json:"mediaName,omitempty"`
	MediaMime            *string `json:"mediaMime,omitempty"`
	MediaSize            *int64  `json:"mediaSize,omitempty"`
	VoiceDurationMs      *int64  `json:"voiceDurationMs,omitempty"`
	ReplyToMessageID     *string `json:"replyToMessageId,omitempty"`
	ClientID             *string `json:"clientId,omitempty"`
	CreatedAt            int64   `json:"createdAt"`
	DeliveredAt          *int64  `json:"deliveredAt"`
	SeenAt               *int64  `json:"seenAt"`
	DeletedForEveryoneAt *int64  `json:"deletedForEveryoneAt,omitempty"`
}

func toMessageResponse(m store.Message) messageResponse {
	return messageResponse{
		ID:                   m.ID,
		ConversationID:       m.ConversationID,
		SenderID:             m.SenderID,
		RecipientID:          m.RecipientID,
		Type:                 string(m.Type),
		Body:                 m.Body,
		IsEncrypted:          m.IsEncrypted,
		MediaURL:             m.MediaURL,
		MediaName:            m.MediaName,
		MediaMime:            m.MediaMime,
		MediaSize:            m.MediaSize,
		VoiceDurationMs:      m.VoiceDurationMs,
		ReplyToMessageID:     m.ReplyToMessageID,
		ClientID:             m.ClientID,
		CreatedAt:            m.CreatedAt,
		DeliveredAt:          m.DeliveredAt,
		SeenAt:               m.SeenAt,
		DeletedForEveryoneAt: m.DeletedForEveryoneAt,
	}
}

func toMessageResponses(msgs []store.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

type reactionCountResponse struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	ReactedByMe bool   `json:"reactedByMe"`
}

type reactionResponse struct {
	MessageID      string                  `json:"messageId"`
	ConversationID string                  `json:"conversationId"`
	Reactions      []reactionCountResponse `json:"reactions"`
	Action         string                  `json:"action"`
	Emoji          string                  `json:"emoji"`
}

func toReactionResponse(r messaging.ReactionResult) reactionResponse {
	counts := make([]reactionCountResponse, 0, len(r.Reactions))
	for _, rc := range r.Reactions {
		counts = append(counts, reactionCountResponse{Emoji: rc.Emoji, Count: rc.Count, ReactedByMe: rc.ReactedByMe})
	}
	return reactionResponse{
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		Reactions:      counts,
		Action:         string(r.Action),
		Emoji:          r.Emoji,
	}
}
