package push

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Joe3124t/pingy-sub002/internal/store"
)

const previewRunes = 120

// Notification is the channel-independent content of one push.
type Notification struct {
	Type           string
	Title          string
	Body           string
	ConversationID string
	MessageID      string
	SenderID       string
	SenderUsername string
	URL            string
	Tag            string
	Badge          int
}

// NewNotification builds the notification announcing msg to its recipient.
func NewNotification(msg store.Message, senderUsername string, badge int) Notification {
	title := senderUsername
	if title == "" {
		title = "New message"
	}
	return Notification{
		Type:           "message",
		Title:          title,
		Body:           notificationBody(msg),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: senderUsername,
		URL:            fmt.Sprintf("/chat/%s", msg.ConversationID),
		Tag:            ConversationTag(msg.ConversationID),
		Badge:          badge,
	}
}

// ConversationTag groups notifications of one conversation on the client.
func ConversationTag(conversationID string) string {
	return "pingy-conversation-" + conversationID
}

func notificationBody(msg store.Message) string {
	if msg.IsEncrypted {
		return "Encrypted message"
	}
	switch msg.Type {
	case store.MessageImage:
		return "Photo"
	case store.MessageVideo:
		return "Video"
	case store.MessageVoice:
		return "Voice message"
	case store.MessageFile:
		return "File"
	}
	if msg.Body == nil {
		return ""
	}
	return truncate(strings.Join(strings.Fields(*msg.Body), " "), previewRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

type webPushPayload struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	URL            string `json:"url"`
	Tag            string `json:"tag"`
	Badge          int    `json:"badge"`
}

func (n Notification) webPushPayload() webPushPayload {
	return webPushPayload{
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		SenderID:       n.SenderID,
		SenderUsername: n.SenderUsername,
		URL:            n.URL,
		Tag:            n.Tag,
		Badge:          n.Badge,
	}
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apnsAps struct {
	Alert    apnsAlert `json:"alert"`
	Sound    string    `json:"sound"`
	Badge    int       `json:"badge"`
	ThreadID string    `json:"thread-id"`
}

type apnsPayload struct {
	Aps            apnsAps `json:"aps"`
	Type           string  `json:"type"`
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	SenderID       string  `json:"senderId"`
	SenderUsername string  `json:"senderUsername"`
}

func (n Notification) apnsPayload() apnsPayload {
	return apnsPayload{
		Aps: apnsAps{
			Alert:    apnsAlert{Title: n.Title, Body: n.Body},
			Sound:    "default",
			Badge:    n.Badge,
			ThreadID: n.ConversationID,
		},
		Type:           n.Type,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		SenderID:       n.SenderID,
		SenderUsername: n.SenderUsername,
	}
}
