package store

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoice, MessageFile:
		return true
	default:
		return false
	}
}

// IsMedia reports whether t requires a media URL.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageText
}

// Message is a direct message between the two participants of a conversation.
// Timestamps are Unix milliseconds; nil means "not yet".
type Message struct {
	Seq                  int64
	ID                   string
	ConversationID       string
	SenderID             string
	RecipientID          string
	Type                 MessageType
	Body                 *string
	IsEncrypted          bool
	MediaURL             *string
	MediaName            *string
	MediaMime            *string
	MediaSize            *int64
	VoiceDurationMs      *int64
	ReplyToMessageID     *string
	ClientID             *string
	CreatedAt            int64
	DeliveredAt          *int64
	SeenAt               *int64
	DeletedForEveryoneAt *int64
}

// DeliveredFilter narrows which pending messages MarkDelivered touches.
// A nil MessageIDs and empty ConversationID mean every pending message of the
// recipient; a non-nil empty MessageIDs matches nothing.
type DeliveredFilter struct {
	RecipientID    string
	MessageIDs     []string
	ConversationID string
}

// Reaction is one user's emoji on one message.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	UpdatedAt int64
}

// ReactionCount aggregates the reactions sharing an emoji.
type ReactionCount struct {
	Emoji       string
	Count       int
	ReactedByMe bool
}

// PushSubscription is a registered device or browser endpoint for a user.
// APNs devices use a synthetic endpoint; see push.TargetFromSubscription.
type PushSubscription struct {
	ID        int64
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
	UpdatedAt int64
}
