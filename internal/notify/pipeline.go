package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/presence"
	"github.com/Joe3124t/pingy-sub002/internal/push"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"go.uber.org/zap"
)

const dispatchTimeout = 30 * time.Second

// Decision is the path taken for a newly created message.
type Decision string

const (
	// DecisionDelivered means the recipient was online and the message was
	// marked delivered without a push.
	DecisionDelivered Decision = "delivered"
	// DecisionPushed means the recipient was offline and push dispatch ran.
	DecisionPushed Decision = "pushed"
)

// Presence reports whether a user has a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Lifecycle is the part of the message service the pipeline drives.
type Lifecycle interface {
	MarkDelivered(ctx context.Context, in messaging.DeliveredInput) ([]store.Message, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// Pusher fans a notification out to a recipient's devices.
type Pusher interface {
	Dispatch(ctx context.Context, req push.Request) push.Result
}

// Profiles resolves display names.
type Profiles interface {
	Username(ctx context.Context, userID string) (string, error)
}

// PushDispatched is the payload of bus.KindPushDispatched.
type PushDispatched struct {
	MessageID   string
	RecipientID string
	Result      push.Result
}

// Pipeline reacts to committed messages: it marks them delivered when the
// recipient is online and pushes them otherwise. It also flushes pending
// deliveries when a user comes online. Nothing it does can fail the write
// that triggered it.
type Pipeline struct {
	presence  Presence
	lifecycle Lifecycle
	pusher    Pusher
	profiles  Profiles
	bus       *bus.Bus
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline.
func New(p Presence, l Lifecycle, pusher Pusher, profiles Profiles, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		presence:  p,
		lifecycle: l,
		pusher:    pusher,
		profiles:  profiles,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes to message creation and presence events on the bus.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	created, unsubCreated := p.bus.Subscribe(bus.KindMessageCreated, 256)
	online, unsubOnline := p.bus.Subscribe(bus.KindPresenceChanged, 64)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer unsubCreated()
		defer unsubOnline()
		for {
			select {
			case evt := <-created:
				if mc, ok := evt.Payload.(messaging.MessageCreated); ok {
					p.spawn(ctx, func(ctx context.Context) { p.handleCreated(ctx, mc.Message) })
				}
			case evt := <-online:
				if pc, ok := evt.Payload.(presence.Changed); ok && pc.Online {
					p.spawn(ctx, func(ctx context.Context) { p.flushPending(ctx, pc.UserID) })
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for in-flight work to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// spawn runs fn on its own goroutine. In-flight work outlives Start's
// context so a shutdown does not abort a send halfway.
func (p *Pipeline) spawn(ctx context.Context, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (p *Pipeline) handleCreated(ctx context.Context, msg store.Message) {
	decision, res, err := p.DispatchPushIfOffline(ctx, msg)
	if err != nil {
		p.logger.Error("notification pipeline failed", zap.Error(err),
			zap.String("message_id", msg.ID), zap.String("decision", string(decision)))
		return
	}
	if decision == DecisionPushed {
		p.logger.Debug("push dispatched",
			zap.String("message_id", msg.ID),
			zap.Int("sent", res.Sent),
			zap.Int("attempted", res.Attempted),
			zap.Bool("skipped", res.Skipped),
			zap.String("reason", res.Reason))
	}
}

// DispatchPushIfOffline marks msg delivered when its recipient is online and
// otherwise pushes it with the recipient's unread count as badge.
func (p *Pipeline) DispatchPushIfOffline(ctx context.Context, msg store.Message) (Decision, push.Result, error) {
	if p.presence.IsOnline(msg.RecipientID) {
		_, err := p.lifecycle.MarkDelivered(ctx, messaging.DeliveredInput{
			RecipientID: msg.RecipientID,
			MessageIDs:  []string{msg.ID},
		})
		if err != nil {
			return DecisionDelivered, push.Result{}, fmt.Errorf("mark delivered: %w", err)
		}
		return DecisionDelivered, push.Result{}, nil
	}

	badge, err := p.lifecycle.CountUnread(ctx, msg.RecipientID)
	if err != nil {
		return DecisionPushed, push.Result{}, fmt.Errorf("count unread: %w", err)
	}
	username, err := p.profiles.Username(ctx, msg.SenderID)
	if err != nil {
		// A missing name only degrades the title.
		p.logger.Warn("failed to resolve sender username", zap.Error(err), zap.String("user_id", msg.SenderID))
	}

	res := p.pusher.Dispatch(ctx, push.Request{
		RecipientID:    msg.RecipientID,
		Message:        msg,
		SenderUsername: username,
		Badge:          badge,
	})
	p.bus.Emit(bus.KindPushDispatched, PushDispatched{MessageID: msg.ID, RecipientID: msg.RecipientID, Result: res})
	return DecisionPushed, res, nil
}

// flushPending marks everything waiting for userID delivered.
func (p *Pipeline) flushPending(ctx context.Context, userID string) {
	updated, err := p.lifecycle.MarkDelivered(ctx, messaging.DeliveredInput{RecipientID: userID})
	if err != nil {
		p.logger.Error("failed to mark pending messages delivered", zap.Error(err), zap.String("user_id", userID))
		return
	}
	if len(updated) > 0 {
		p.logger.Info("pending messages delivered", zap.String("user_id", userID), zap.Int("count", len(updated)))
	}
}
