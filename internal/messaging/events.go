package messaging

import "github.com/Joe3124t/pingy-sub002/internal/store"

// Bus payloads, published after the corresponding write commits.

// MessageCreated is the payload of bus.KindMessageCreated.
type MessageCreated struct {
	Message store.Message
}

// MessagesDelivered is the payload of bus.KindMessageDelivered.
type MessagesDelivered struct {
	RecipientID string
	Messages    []store.Message
}

// MessagesSeen is the payload of bus.KindMessageSeen.
type MessagesSeen struct {
	RecipientID    string
	ConversationID string
	Messages       []store.Message
}

// ReactionToggled is the payload of bus.KindReactionToggled.
// Result.Reactions flags the actor's own emoji in ReactedByMe.
type ReactionToggled struct {
	ActorID      string
	Result       ReactionResult
	Participants []string
}
