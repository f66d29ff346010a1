package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const webPushTTL = 180

// WebPushConfig holds the VAPID key pair and contact subject.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Enabled reports whether a VAPID key pair is configured.
func (c WebPushConfig) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebPushSender delivers VAPID-signed, encrypted notifications to browsers.
type WebPushSender struct {
	cfg    WebPushConfig
	client webpush.HTTPClient
}

// NewWebPushSender returns a sender using client, or http.DefaultClient when nil.
func NewWebPushSender(cfg WebPushConfig, client webpush.HTTPClient) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	// The library adds the mailto: scheme itself.
	cfg.Subject = strings.TrimPrefix(cfg.Subject, "mailto:")
	return &WebPushSender{cfg: cfg, client: client}
}

// Send encrypts and posts one notification to a push service endpoint.
func (s *WebPushSender) Send(ctx context.Context, t WebPushTarget, n Notification) Delivery {
	payload, err := json.Marshal(n.webPushPayload())
	if err != nil {
		return Delivery{Outcome: Transient, Err: fmt.Errorf("marshal web push payload: %w", err)}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: t.Endpoint,
		Keys:     webpush.Keys{Auth: t.Auth, P256dh: t.P256dh},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		TTL:             webPushTTL,
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return Delivery{Outcome: Transient, Err: fmt.Errorf("web push: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Delivery{Outcome: Delivered, StatusCode: resp.StatusCode}
	}
	d := Delivery{
		Outcome:    Transient,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("web push status %d", resp.StatusCode),
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		d.Outcome = Permanent
	}
	return d
}
