package api

import (
	"context"
	"net/http"

	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/presence"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Subscriptions is the push subscription surface of the settings store.
type Subscriptions interface {
	UpsertPushSubscription(ctx context.Context, s store.PushSubscription) error
	DeletePushSubscription(ctx context.Context, userID, endpoint string) error
}

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Messages      *messaging.Service
	Reactions     *messaging.ReactionLedger
	Subscriptions Subscriptions
	Presence      *presence.Registry
	Bus           *bus.Bus
	Gatherer      prometheus.Gatherer
	Ready         func() bool
	Logger        *zap.Logger

	// OriginPatterns authorizes cross-origin WebSocket upgrades; same-origin
	// requests are always accepted.
	OriginPatterns []string
}

// Server routes the REST API and the WebSocket gateway.
type Server struct {
	router        *gin.Engine
	messages      *messaging.Service
	reactions     *messaging.ReactionLedger
	subscriptions Subscriptions
	presence      *presence.Registry
	bus           *bus.Bus
	ready         func() bool
	logger        *zap.Logger

	jwtSecret      string
	originPatterns []string
	handler        http.Handler
}

// NewServer builds the router. jwtSecret signs and verifies access tokens.
func NewServer(jwtSecret string, d Deps) *Server {
	router := gin.New()
	router.Use(recovery(d.Logger), requestLogger(d.Logger))

	s := &Server{
		router:        router,
		messages:      d.Messages,
		reactions:     d.Reactions,
		subscriptions: d.Subscriptions,
		presence:      d.Presence,
		bus:           d.Bus,
		ready:         d.Ready,
		logger:        d.Logger,

		jwtSecret:      jwtSecret,
		originPatterns: d.OriginPatterns,
	}
	if s.ready == nil {
		s.ready = func() bool { return true }
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(jwtSecret, gatherer)

	// The WebSocket upgrade must hijack a ResponseWriter gin has not touched,
	// so it is routed beside the engine rather than through it.
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+wsPath, s.serveWS)
	mux.Handle("/", router)
	s.handler = mux
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutes(jwtSecret string, gatherer prometheus.Gatherer) {
	api := s.router.Group("/api/v1")
	api.Use(JWTAuth(jwtSecret))
	{
		conversations := api.Group("/conversations/:id")
		{
			conversations.POST("/messages", s.handleCreateMessage)
			conversations.GET("/messages", s.handleListMessages)
			conversations.POST("/seen", s.handleMarkSeen)
		}

		messages := api.Group("/messages")
		{
			messages.POST("/delivered", s.handleMarkDelivered)
			messages.POST("/:id/reactions", s.handleToggleReaction)
			messages.DELETE("/:id", s.handleDeleteMessage)
		}

		api.GET("/unread", s.handleCountUnread)
		api.PUT("/push/subscriptions", s.handlePutSubscription)
		api.DELETE("/push/subscriptions", s.handleDeleteSubscription)
	}

	s.router.GET("/health", func(c *gin.Context) {
		if !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online_users": s.presence.OnlineCount()})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
