package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/presence"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db       *store.DB
	bus      *bus.Bus
	presence *presence.Registry
	server   *Server
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := db.UpsertUser(ctx, u, u, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.CreateConversation(ctx, "c1", []string{"alice", "bob"}, 1); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	reg := presence.New()
	logger := zap.NewNop()
	srv := NewServer(testSecret, Deps{
		Messages:      messaging.NewService(db, b, logger),
		Reactions:     messaging.NewReactionLedger(db, b, logger),
		Subscriptions: db,
		Presence:      reg,
		Bus:           b,
		Gatherer:      prometheus.NewRegistry(),
		Logger:        logger,

		OriginPatterns: []string{"app.pingy.test"},
	})
	return &testEnv{db: db, bus: b, presence: reg, server: srv}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := GenerateToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type messageEnvelope struct {
	Message messageResponse `json:"message"`
}

type messagesEnvelope struct {
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"hasMore"`
}

func TestAuthRequired(t *testing.T) {
	e := setupTestServer(t)

	w := e.do(t, "", http.MethodGet, "/api/v1/unread", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/unread", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}

func TestCreateMessageAndDedupe(t *testing.T) {
	e := setupTestServer(t)
	body := map[string]any{"type": "text", "body": "hello", "clientId": "c-1"}

	w := e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	first := decode[messageEnvelope](t, w).Message
	if first.RecipientID != "bob" || *first.Body != "hello" || first.DeliveredAt != nil {
		t.Errorf("message = %+v", first)
	}

	w = e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", body)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", w.Code)
	}
	if again := decode[messageEnvelope](t, w).Message; again.ID != first.ID {
		t.Errorf("retry id = %s, want %s", again.ID, first.ID)
	}
}

func TestErrorMapping(t *testing.T) {
	e := setupTestServer(t)

	w := e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "image"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing media url status = %d, want 400", w.Code)
	}

	w = e.do(t, "carol", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": "hi"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-participant status = %d, want 403", w.Code)
	}

	if err := e.db.Block(context.Background(), "bob", "alice", 1); err != nil {
		t.Fatal(err)
	}
	w = e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": "hi"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("blocked status = %d, want 403", w.Code)
	}
	if got := decode[map[string]string](t, w); got["reason"] != "blocked" {
		t.Errorf("blocked body = %v", got)
	}

	w = e.do(t, "alice", http.MethodPost, "/api/v1/messages/nope/reactions", map[string]any{"emoji": "👍"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d, want 404", w.Code)
	}
}

func TestDeliveredSeenAndUnread(t *testing.T) {
	e := setupTestServer(t)
	for _, text := range []string{"one", "two"} {
		if w := e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": text}); w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
	}

	w := e.do(t, "bob", http.MethodGet, "/api/v1/unread", nil)
	if got := decode[map[string]int](t, w); got["count"] != 2 {
		t.Errorf("unread = %v", got)
	}

	w = e.do(t, "bob", http.MethodPost, "/api/v1/messages/delivered", map[string]any{"conversationId": "c1"})
	if got := decode[messagesEnvelope](t, w); len(got.Messages) != 2 {
		t.Errorf("delivered = %d, want 2", len(got.Messages))
	}
	w = e.do(t, "bob", http.MethodPost, "/api/v1/messages/delivered", nil)
	if got := decode[messagesEnvelope](t, w); len(got.Messages) != 0 {
		t.Errorf("second delivered = %d, want 0", len(got.Messages))
	}

	w = e.do(t, "bob", http.MethodPost, "/api/v1/conversations/c1/seen", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("seen status = %d body = %s", w.Code, w.Body)
	}
	seen := decode[messagesEnvelope](t, w)
	if len(seen.Messages) != 2 || seen.Messages[0].SeenAt == nil {
		t.Errorf("seen = %+v", seen.Messages)
	}

	w = e.do(t, "bob", http.MethodGet, "/api/v1/unread", nil)
	if got := decode[map[string]int](t, w); got["count"] != 0 {
		t.Errorf("unread after seen = %v", got)
	}
}

func TestListMessagesPagination(t *testing.T) {
	e := setupTestServer(t)
	for i := 0; i < 3; i++ {
		e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": "m"})
	}

	w := e.do(t, "bob", http.MethodGet, "/api/v1/conversations/c1/messages?limit=2", nil)
	page := decode[messagesEnvelope](t, w)
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("page = %d hasMore=%v", len(page.Messages), page.HasMore)
	}

	w = e.do(t, "bob", http.MethodGet, "/api/v1/conversations/c1/messages?limit=2&before="+page.Messages[0].ID, nil)
	older := decode[messagesEnvelope](t, w)
	if len(older.Messages) != 1 || older.HasMore {
		t.Errorf("older page = %d hasMore=%v", len(older.Messages), older.HasMore)
	}

	if w := e.do(t, "bob", http.MethodGet, "/api/v1/conversations/c1/messages?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestToggleReaction(t *testing.T) {
	e := setupTestServer(t)
	w := e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": "hi"})
	msg := decode[messageEnvelope](t, w).Message

	path := "/api/v1/messages/" + msg.ID + "/reactions"
	w = e.do(t, "bob", http.MethodPost, path, map[string]any{"emoji": "👍"})
	first := decode[reactionResponse](t, w)
	if first.Action != "added" || len(first.Reactions) != 1 || !first.Reactions[0].ReactedByMe {
		t.Errorf("first toggle = %+v", first)
	}

	w = e.do(t, "bob", http.MethodPost, path, map[string]any{"emoji": "👍"})
	second := decode[reactionResponse](t, w)
	if second.Action != "removed" || len(second.Reactions) != 0 {
		t.Errorf("second toggle = %+v", second)
	}
}

func TestPushSubscriptions(t *testing.T) {
	e := setupTestServer(t)
	ctx := context.Background()

	w := e.do(t, "bob", http.MethodPut, "/api/v1/push/subscriptions", map[string]any{
		"endpoint": "https://push.example/1",
		"keys":     map[string]string{"p256dh": "k", "auth": "a"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("put web push status = %d body = %s", w.Code, w.Body)
	}
	w = e.do(t, "bob", http.MethodPut, "/api/v1/push/subscriptions", map[string]any{"apnsToken": "devtok"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("put apns status = %d", w.Code)
	}
	w = e.do(t, "bob", http.MethodPut, "/api/v1/push/subscriptions", map[string]any{"endpoint": "https://push.example/2"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("keyless web push status = %d, want 400", w.Code)
	}

	subs, _ := e.db.ListPushSubscriptions(ctx, "bob")
	if len(subs) != 2 || subs[1].Endpoint != "apns:devtok" {
		t.Fatalf("subs = %+v", subs)
	}

	w = e.do(t, "bob", http.MethodDelete, "/api/v1/push/subscriptions", map[string]any{"apnsToken": "devtok"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	subs, _ = e.db.ListPushSubscriptions(ctx, "bob")
	if len(subs) != 1 {
		t.Errorf("subs after delete = %d", len(subs))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := setupTestServer(t)
	if w := e.do(t, "", http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := e.do(t, "", http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestWebSocketPresenceAndEvents(t *testing.T) {
	e := setupTestServer(t)
	srv := httptest.NewServer(e.server.Handler())
	defer srv.Close()

	online, unsub := e.bus.Subscribe(bus.KindPresenceChanged, 4)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token(t, "bob")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-online:
		if pc := evt.Payload.(presence.Changed); pc.UserID != "bob" || !pc.Online {
			t.Errorf("presence = %+v", pc)
		}
	case <-ctx.Done():
		t.Fatal("no presence event")
	}
	if !e.presence.IsOnline("bob") {
		t.Fatal("bob not online")
	}

	w := e.do(t, "alice", http.MethodPost, "/api/v1/conversations/c1/messages", map[string]any{"type": "text", "body": "ping"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	var frame struct {
		Type    string          `json:"type"`
		Payload messageResponse `json:"payload"`
	}
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != bus.KindMessageCreated || *frame.Payload.Body != "ping" {
		t.Errorf("frame = %+v", frame)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	select {
	case evt := <-online:
		if pc := evt.Payload.(presence.Changed); pc.Online {
			t.Errorf("presence = %+v, want offline", pc)
		}
	case <-ctx.Done():
		t.Fatal("no offline event")
	}
	if e.presence.IsOnline("bob") {
		t.Error("bob still online after close")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	e := setupTestServer(t)
	srv := httptest.NewServer(e.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	for _, url := range []string{base, base + "?token=garbage"} {
		_, resp, err := websocket.Dial(ctx, url, nil)
		if err == nil {
			t.Fatalf("dial %s succeeded without a valid token", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %s: resp = %v, want 401", url, resp)
		}
	}
	if e.presence.OnlineCount() != 0 {
		t.Errorf("online = %d, want 0", e.presence.OnlineCount())
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	e := setupTestServer(t)
	srv := httptest.NewServer(e.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token(t, "bob")

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"https://evil.example"}},
	})
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v, want 403", resp)
	}
	if e.presence.IsOnline("bob") {
		t.Error("bob online after a rejected upgrade")
	}

	online, unsub := e.bus.Subscribe(bus.KindPresenceChanged, 4)
	defer unsub()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"https://app.pingy.test"}},
	})
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()
	select {
	case <-online:
	case <-ctx.Done():
		t.Fatal("no presence event for allowed origin")
	}
	if !e.presence.IsOnline("bob") {
		t.Error("bob not online")
	}
}
