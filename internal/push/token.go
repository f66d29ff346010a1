package push

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenTTL is how long a signed provider token is reused. APNs
// rejects tokens older than an hour and throttles tokens refreshed more
// often than every 20 minutes.
const DefaultTokenTTL = 50 * time.Minute

// TokenCache holds the current APNs provider token. Concurrent callers that
// find it expired share a single signing.
type TokenCache struct {
	sign func(now time.Time) (string, error)
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenCache returns a cache producing ES256 tokens for the given key.
func NewTokenCache(key *ecdsa.PrivateKey, keyID, teamID string) *TokenCache {
	return newTokenCache(func(now time.Time) (string, error) {
		return signProviderToken(key, keyID, teamID, now)
	})
}

func newTokenCache(sign func(time.Time) (string, error)) *TokenCache {
	return &TokenCache{sign: sign, ttl: DefaultTokenTTL, now: time.Now}
}

func signProviderToken(key *ecdsa.PrivateKey, keyID, teamID string, now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign apns token: %w", err)
	}
	return signed, nil
}

// Token returns a valid token, signing a new one if the cached one expired.
func (c *TokenCache) Token() (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	v, err, _ := c.group.Do("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		now := c.now()
		tok, err := c.sign(now)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.expiresAt = now.Add(c.ttl)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

// Invalidate drops token if it is still the cached one, forcing the next
// Token call to sign again.
func (c *TokenCache) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
