package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"
)

const (
	APNsProductionHost = "https://api.push.apple.com"
	APNsSandboxHost    = "https://api.sandbox.push.apple.com"
)

// APNsConfig holds the token-based provider credentials.
type APNsConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

// Enabled reports whether every credential needed to sign requests is set.
func (c APNsConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.TeamID != "" && c.BundleID != ""
}

// APNsSender delivers notifications to Apple devices over HTTP/2.
type APNsSender struct {
	client *http.Client
	host   string
	topic  string
	tokens *TokenCache
}

// APNsOption customizes an APNsSender.
type APNsOption func(*APNsSender)

// WithAPNsHost overrides the provider base URL.
func WithAPNsHost(host string) APNsOption {
	return func(s *APNsSender) { s.host = host }
}

// WithAPNsClient overrides the HTTP client. It must speak HTTP/2.
func WithAPNsClient(c *http.Client) APNsOption {
	return func(s *APNsSender) { s.client = c }
}

// NewAPNsSender loads the .p8 signing key and prepares an HTTP/2 client.
func NewAPNsSender(cfg APNsConfig, opts ...APNsOption) (*APNsSender, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read apns key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse apns key: %w", err)
	}

	host := APNsSandboxHost
	if cfg.Production {
		host = APNsProductionHost
	}
	s := &APNsSender{
		client: &http.Client{Transport: &http2.Transport{}, Timeout: 15 * time.Second},
		host:   host,
		topic:  cfg.BundleID,
		tokens: NewTokenCache(key, cfg.KeyID, cfg.TeamID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type apnsError struct {
	Reason string `json:"reason"`
}

// Send posts one notification to a device token.
func (s *APNsSender) Send(ctx context.Context, t APNsTarget, n Notification) Delivery {
	body, err := json.Marshal(n.apnsPayload())
	if err != nil {
		return Delivery{Outcome: Transient, Err: fmt.Errorf("marshal apns payload: %w", err)}
	}
	token, err := s.tokens.Token()
	if err != nil {
		return Delivery{Outcome: Transient, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/3/device/"+t.Token, bytes.NewReader(body))
	if err != nil {
		return Delivery{Outcome: Transient, Err: err}
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-topic", s.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-collapse-id", n.ConversationID)
	req.Header.Set("content-type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Delivery{Outcome: Transient, Err: fmt.Errorf("apns request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Delivery{Outcome: Delivered, StatusCode: resp.StatusCode}
	}

	var apiErr apnsError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
	d := Delivery{
		Outcome:    classifyAPNs(resp.StatusCode, apiErr.Reason),
		StatusCode: resp.StatusCode,
		Reason:     apiErr.Reason,
		Err:        fmt.Errorf("apns status %d: %s", resp.StatusCode, apiErr.Reason),
	}
	if resp.StatusCode == http.StatusForbidden &&
		(apiErr.Reason == "ExpiredProviderToken" || apiErr.Reason == "InvalidProviderToken") {
		s.tokens.Invalidate(token)
	}
	return d
}

func classifyAPNs(status int, reason string) Outcome {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return Permanent
	case status == http.StatusBadRequest:
		switch reason {
		case "BadDeviceToken", "DeviceTokenNotForTopic", "Unregistered":
			return Permanent
		}
	}
	return Transient
}
