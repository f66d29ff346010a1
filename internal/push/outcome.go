package push

// Outcome classifies a single send attempt.
type Outcome int

const (
	// Delivered means the provider accepted the notification.
	Delivered Outcome = iota
	// Transient failures keep the subscription for the next message.
	Transient
	// Permanent failures mean the subscription is gone and must be deleted.
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Delivery is the result of sending to one target.
type Delivery struct {
	Outcome    Outcome
	StatusCode int
	Reason     string
	Err        error
}
