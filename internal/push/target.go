package push

import (
	"strings"

	"github.com/Joe3124t/pingy-sub002/internal/store"
)

// APNsEndpointPrefix marks a subscription endpoint that carries an APNs
// device token instead of a Web Push URL.
const APNsEndpointPrefix = "apns:"

// Channel names a push provider.
type Channel string

const (
	ChannelWebPush Channel = "webpush"
	ChannelAPNs    Channel = "apns"
)

// Target is where one subscription's notifications go. It is either a
// WebPushTarget or an APNsTarget.
type Target interface {
	Channel() Channel
	isTarget()
}

// WebPushTarget is a browser push subscription.
type WebPushTarget struct {
	Endpoint string
	P256dh   string
	Auth     string
}

func (WebPushTarget) Channel() Channel { return ChannelWebPush }
func (WebPushTarget) isTarget()        {}

// APNsTarget is an Apple device token.
type APNsTarget struct {
	Token string
}

func (APNsTarget) Channel() Channel { return ChannelAPNs }
func (APNsTarget) isTarget()        {}

// TargetFromSubscription decodes a stored subscription into its target.
func TargetFromSubscription(s store.PushSubscription) Target {
	if token, ok := strings.CutPrefix(s.Endpoint, APNsEndpointPrefix); ok {
		return APNsTarget{Token: token}
	}
	return WebPushTarget{Endpoint: s.Endpoint, P256dh: s.P256dh, Auth: s.Auth}
}

// APNsEndpoint returns the stored endpoint for an APNs device token.
func APNsEndpoint(token string) string {
	return APNsEndpointPrefix + token
}
