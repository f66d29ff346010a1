package daemon

import (
	"context"
	"errors"
	"net/http"

	"github.com/Joe3124t/pingy-sub002/internal/api"
	"github.com/Joe3124t/pingy-sub002/internal/bus"
	"github.com/Joe3124t/pingy-sub002/internal/config"
	"github.com/Joe3124t/pingy-sub002/internal/lock"
	"github.com/Joe3124t/pingy-sub002/internal/logging"
	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/Joe3124t/pingy-sub002/internal/notify"
	"github.com/Joe3124t/pingy-sub002/internal/presence"
	"github.com/Joe3124t/pingy-sub002/internal/push"
	"github.com/Joe3124t/pingy-sub002/internal/status"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
	// Logger replaces the file logger when set; used by tests.
	Logger *zap.Logger
	// HTTPClient is used by the push senders when set; used by tests.
	HTTPClient *http.Client
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			presence.New,
			provideMessageService,
			provideReactionLedger,
			provideDispatcher,
			providePipeline,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerGauges, registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	dataDir := p.Config.Storage.DataDir
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	return logging.New(config.LogPath(dataDir), logging.ParseLevel(p.Config.Server.LogLevel))
}

func provideBus(logger *zap.Logger) *bus.Bus {
	b := bus.New()
	b.OnDrop(func(sub string, evt bus.Event) {
		// A dropped message.created means no delivery mark and no push.
		if mc, ok := evt.Payload.(messaging.MessageCreated); ok {
			logger.Warn("event dropped, subscriber full",
				zap.String("kind", evt.Kind),
				zap.String("subscriber", sub),
				zap.String("message_id", mc.Message.ID),
				zap.String("recipient_id", mc.Message.RecipientID))
			return
		}
		logger.Debug("event dropped, subscriber full",
			zap.String("kind", evt.Kind), zap.String("subscriber", sub))
	})
	return b
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	dataDir := p.Config.Storage.DataDir
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", dataDir))
	l, err := lock.Acquire(dataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore takes the lock as a parameter so the database is never
// opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := config.DBPath(p.Config.Storage.DataDir)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMessageService(db *store.DB, b *bus.Bus, logger *zap.Logger) *messaging.Service {
	return messaging.NewService(db, b, logger.Named("messaging"))
}

func provideReactionLedger(db *store.DB, b *bus.Bus, logger *zap.Logger) *messaging.ReactionLedger {
	return messaging.NewReactionLedger(db, b, logger.Named("reactions"))
}

// provideDispatcher builds a sender per configured channel. Unconfigured
// channels stay as untyped nil interfaces so the dispatcher can tell.
func provideDispatcher(p Params, db *store.DB, reg *prometheus.Registry, logger *zap.Logger) (*push.Dispatcher, error) {
	logger = logger.Named("push")
	cfg := p.Config.Push

	var wp push.WebPusher
	webCfg := push.WebPushConfig{
		PublicKey:  cfg.WebPush.VAPIDPublicKey,
		PrivateKey: cfg.WebPush.VAPIDPrivateKey,
		Subject:    cfg.WebPush.Subject,
	}
	if webCfg.Enabled() {
		var client webpush.HTTPClient
		if p.HTTPClient != nil {
			client = p.HTTPClient
		}
		wp = push.NewWebPushSender(webCfg, client)
		logger.Info("web push enabled")
	}

	var ap push.APNsPusher
	apnsCfg := push.APNsConfig{
		KeyPath:    cfg.APNs.KeyPath,
		KeyID:      cfg.APNs.KeyID,
		TeamID:     cfg.APNs.TeamID,
		BundleID:   cfg.APNs.BundleID,
		Production: cfg.APNs.Production,
	}
	if apnsCfg.Enabled() {
		var opts []push.APNsOption
		if p.HTTPClient != nil {
			opts = append(opts, push.WithAPNsClient(p.HTTPClient))
		}
		sender, err := push.NewAPNsSender(apnsCfg, opts...)
		if err != nil {
			return nil, err
		}
		ap = sender
		logger.Info("apns enabled", zap.Bool("production", apnsCfg.Production))
	}

	d := push.NewDispatcher(db, wp, ap, push.NewMetrics(reg), logger)
	if !d.Configured() {
		logger.Warn("no push channel configured; offline recipients will not be notified")
	}
	return d, nil
}

func providePipeline(reg *presence.Registry, svc *messaging.Service, d *push.Dispatcher, db *store.DB, b *bus.Bus, logger *zap.Logger) *notify.Pipeline {
	return notify.New(reg, svc, d, db, b, logger.Named("notify"))
}

func provideAPI(p Params, svc *messaging.Service, ledger *messaging.ReactionLedger, db *store.DB, pres *presence.Registry, b *bus.Bus, reg *prometheus.Registry, m *status.Machine, logger *zap.Logger) (*api.Server, error) {
	if p.Config.Server.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret is required (or set PINGY_JWT_SECRET)")
	}
	gin.SetMode(gin.ReleaseMode)
	return api.NewServer(p.Config.Server.JWTSecret, api.Deps{
		Messages:      svc,
		Reactions:     ledger,
		Subscriptions: db,
		Presence:      pres,
		Bus:           b,
		Gatherer:      reg,
		Ready:         m.Ready,
		Logger:        logger.Named("api"),

		OriginPatterns: p.Config.Server.AllowedOrigins,
	}), nil
}

func registerGauges(reg *prometheus.Registry, pres *presence.Registry, b *bus.Bus) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pingy_presence_online_users",
			Help: "Users with at least one live connection.",
		}, func() float64 { return float64(pres.OnlineCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pingy_bus_dropped_events_total",
			Help: "Bus deliveries skipped because a subscriber buffer was full.",
		}, func() float64 { return float64(b.Dropped()) }),
	)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, pipeline *notify.Pipeline, machine *status.Machine, logger *zap.Logger) {
	probe := newStoreProbe(db, machine, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pipeline.Start(context.Background())

			if err := srv.Start(); err != nil {
				_ = machine.Transition(status.Error)
				return err
			}

			if err := machine.Transition(status.Ready); err != nil {
				return err
			}
			probe.Start()
			logger.Info("daemon ready",
				zap.String("http", srv.HTTPAddr()),
				zap.String("health_socket", srv.SocketPath()),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := machine.Transition(status.Draining); err != nil {
				logger.Warn("status transition failed", zap.Error(err))
			}
			probe.Stop()
			srv.Stop(ctx)
			pipeline.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
