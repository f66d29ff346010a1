package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/presence"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	wsPath         = "/api/v1/ws"
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsEventBuffer  = 128
)

// wsFrame is one server-to-client WebSocket message.
type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type receiptPayload struct {
	RecipientID    string   `json:"recipientId"`
	ConversationID string   `json:"conversationId,omitempty"`
	MessageIDs     []string `json:"messageIds"`
	At             int64    `json:"at"`
}

type reactionEventPayload struct {
	ActorID string `json:"actorId"`
	reactionResponse
}

// serveWS keeps the caller online for the lifetime of the connection and
// streams the domain events that concern them. Inbound frames are ignored.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(s.jwtSecret, r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err), zap.String("user_id", userID))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	events, unsub := s.bus.Subscribe("", wsEventBuffer)
	defer unsub()

	connID := uuid.NewString()
	if s.presence.Add(userID, connID) {
		s.bus.Emit(bus.KindPresenceChanged, presence.Changed{UserID: userID, Online: true})
	}
	defer func() {
		if s.presence.Remove(userID, connID) {
			s.bus.Emit(bus.KindPresenceChanged, presence.Changed{UserID: userID, Online: false})
		}
	}()

	logger := s.logger.With(zap.String("user_id", userID), zap.String("conn_id", connID))
	logger.Debug("websocket connected")

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket closed")
			return
		case evt := <-events:
			frame, ok := frameFor(userID, evt)
			if !ok {
				continue
			}
			if err := s.write(ctx, conn, frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, frame wsFrame) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

// frameFor converts a bus event into a frame for userID, or reports false if
// the event does not concern them.
func frameFor(userID string, evt bus.Event) (wsFrame, bool) {
	switch p := evt.Payload.(type) {
	case messaging.MessageCreated:
		if p.Message.SenderID != userID && p.Message.RecipientID != userID {
			return wsFrame{}, false
		}
		return wsFrame{Type: evt.Kind, Payload: toMessageResponse(p.Message)}, true

	case messaging.MessagesDelivered:
		if !concernsReceipt(userID, p.RecipientID, p.Messages) {
			return wsFrame{}, false
		}
		return wsFrame{Type: evt.Kind, Payload: receipt(p.RecipientID, "", p.Messages, func(m store.Message) *int64 { return m.DeliveredAt })}, true

	case messaging.MessagesSeen:
		if !concernsReceipt(userID, p.RecipientID, p.Messages) {
			return wsFrame{}, false
		}
		return wsFrame{Type: evt.Kind, Payload: receipt(p.RecipientID, p.ConversationID, p.Messages, func(m store.Message) *int64 { return m.SeenAt })}, true

	case messaging.ReactionToggled:
		for _, id := range p.Participants {
			if id == userID {
				return wsFrame{Type: evt.Kind, Payload: reactionEventPayload{
					ActorID:          p.ActorID,
					reactionResponse: toReactionResponse(p.Result),
				}}, true
			}
		}
	}
	return wsFrame{}, false
}

func concernsReceipt(userID, recipientID string, msgs []store.Message) bool {
	if recipientID == userID {
		return true
	}
	for _, m := range msgs {
		if m.SenderID == userID {
			return true
		}
	}
	return false
}

func receipt(recipientID, conversationID string, msgs []store.Message, stamp func(store.Message) *int64) receiptPayload {
	p := receiptPayload{RecipientID: recipientID, ConversationID: conversationID, MessageIDs: make([]string, 0, len(msgs))}
	for _, m := range msgs {
		p.MessageIDs = append(p.MessageIDs, m.ID)
		if at := stamp(m); at != nil && *at > p.At {
			p.At = *at
		}
	}
	return p
}
