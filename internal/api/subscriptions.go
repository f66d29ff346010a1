package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/push"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/gin-gonic/gin"
)

type subscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// subscriptionRequest registers either a browser subscription (endpoint and
// keys, as serialized by PushSubscription.toJSON) or an APNs device token.
type subscriptionRequest struct {
	Endpoint  string           `json:"endpoint"`
	Keys      subscriptionKeys `json:"keys"`
	APNsToken string           `json:"apnsToken"`
}

func (r subscriptionRequest) endpoint() (string, bool) {
	if r.APNsToken != "" {
		return push.APNsEndpoint(r.APNsToken), true
	}
	if r.Endpoint == "" || strings.HasPrefix(r.Endpoint, push.APNsEndpointPrefix) {
		return "", false
	}
	return r.Endpoint, true
}

func (s *Server) handlePutSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	endpoint, ok := req.endpoint()
	if !ok {
		badRequest(c, "endpoint or apnsToken is required")
		return
	}
	if req.APNsToken == "" && (req.Keys.P256dh == "" || req.Keys.Auth == "") {
		badRequest(c, "web push subscriptions require p256dh and auth keys")
		return
	}

	err := s.subscriptions.UpsertPushSubscription(c.Request.Context(), store.PushSubscription{
		UserID:    GetUserID(c),
		Endpoint:  endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: c.Request.UserAgent(),
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	endpoint, ok := req.endpoint()
	if !ok {
		badRequest(c, "endpoint or apnsToken is required")
		return
	}
	if err := s.subscriptions.DeletePushSubscription(c.Request.Context(), GetUserID(c), endpoint); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
