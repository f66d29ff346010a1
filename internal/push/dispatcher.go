package push

import (
	"context"
	"sync"

	"github.com/Joe3124t/pingy-sub002/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonUnconfigured    = "unconfigured"
	ReasonNoSubscriptions = "no_subscriptions"
	ReasonLookupFailed    = "lookup_failed"
)

const maxConcurrentSends = 8

// SubscriptionStore lists and prunes a user's push subscriptions.
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]store.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID, endpoint string) error
}

// WebPusher sends to browser subscriptions.
type WebPusher interface {
	Send(ctx context.Context, t WebPushTarget, n Notification) Delivery
}

// APNsPusher sends to Apple devices.
type APNsPusher interface {
	Send(ctx context.Context, t APNsTarget, n Notification) Delivery
}

// Request asks for a message to be pushed to every device of its recipient.
type Request struct {
	RecipientID    string
	Message        store.Message
	SenderUsername string
	Badge          int
}

// Result summarizes one dispatch. Skipped is set when nothing was attempted;
// Reason then says why.
type Result struct {
	Sent      int    `json:"sent"`
	Attempted int    `json:"attempted"`
	Failed    int    `json:"failed"`
	Removed   int    `json:"removed"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// Dispatcher fans a notification out to all of a recipient's subscriptions.
type Dispatcher struct {
	subs    SubscriptionStore
	webpush WebPusher
	apns    APNsPusher
	metrics *Metrics
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. Either sender may be nil when its
// channel is not configured; subscriptions for that channel are ignored.
func NewDispatcher(subs SubscriptionStore, wp WebPusher, apns APNsPusher, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{subs: subs, webpush: wp, apns: apns, metrics: metrics, logger: logger}
}

// Configured reports whether at least one channel can send.
func (d *Dispatcher) Configured() bool {
	return d.webpush != nil || d.apns != nil
}

// Dispatch sends req to every subscription concurrently. Individual failures
// never abort siblings; they are counted and logged. Subscriptions the
// provider reports as permanently invalid are deleted.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if !d.Configured() {
		return d.skip(ReasonUnconfigured)
	}

	subs, err := d.subs.ListPushSubscriptions(ctx, req.RecipientID)
	if err != nil {
		d.logger.Error("failed to list push subscriptions", zap.Error(err), zap.String("user_id", req.RecipientID))
		return d.skip(ReasonLookupFailed)
	}

	type job struct {
		sub    store.PushSubscription
		target Target
	}
	var jobs []job
	for _, s := range subs {
		t := TargetFromSubscription(s)
		if !d.channelEnabled(t.Channel()) {
			continue
		}
		jobs = append(jobs, job{sub: s, target: t})
	}
	if len(jobs) == 0 {
		return d.skip(ReasonNoSubscriptions)
	}

	n := NewNotification(req.Message, req.SenderUsername, req.Badge)

	var (
		mu  sync.Mutex
		res = Result{Attempted: len(jobs)}
		g   errgroup.Group
	)
	g.SetLimit(maxConcurrentSends)
	for _, j := range jobs {
		g.Go(func() error {
			del := d.send(ctx, j.target, n)
			d.metrics.observeDelivery(j.target.Channel(), del.Outcome)

			removed := false
			if del.Outcome == Permanent {
				if err := d.subs.DeletePushSubscription(ctx, j.sub.UserID, j.sub.Endpoint); err != nil {
					d.logger.Error("failed to delete push subscription", zap.Error(err),
						zap.String("user_id", j.sub.UserID), zap.Int64("subscription_id", j.sub.ID))
				} else {
					removed = true
				}
			}
			if del.Outcome != Delivered {
				d.logger.Warn("push send failed",
					zap.String("channel", string(j.target.Channel())),
					zap.String("outcome", del.Outcome.String()),
					zap.Int("status", del.StatusCode),
					zap.String("reason", del.Reason),
					zap.Int64("subscription_id", j.sub.ID),
					zap.Error(del.Err))
			}

			mu.Lock()
			defer mu.Unlock()
			if del.Outcome == Delivered {
				res.Sent++
			} else {
				res.Failed++
			}
			if removed {
				res.Removed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (d *Dispatcher) channelEnabled(ch Channel) bool {
	switch ch {
	case ChannelWebPush:
		return d.webpush != nil
	case ChannelAPNs:
		return d.apns != nil
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, t Target, n Notification) Delivery {
	switch t := t.(type) {
	case WebPushTarget:
		return d.webpush.Send(ctx, t, n)
	case APNsTarget:
		return d.apns.Send(ctx, t, n)
	default:
		panic("push: unknown target type")
	}
}

func (d *Dispatcher) skip(reason string) Result {
	d.metrics.observeSkip(reason)
	return Result{Skipped: true, Reason: reason}
}
