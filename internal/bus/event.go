package bus

import "time"

// Event kinds published by the messaging core. Subscribers filter by prefix,
// so "message." receives every message lifecycle event.
const (
	KindMessageCreated   = "message.created"
	KindMessageDelivered = "message.delivered"
	KindMessageSeen      = "message.seen"
	KindReactionToggled  = "reaction.toggled"
	KindPresenceChanged  = "presence.changed"
	KindPushDispatched   = "push.dispatched"
	KindStatusChanged    = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
