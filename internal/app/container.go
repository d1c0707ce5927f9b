// Package app assembles the service from configuration: providers behind
// their breakers, the turn orchestrator, the session manager and the HTTP
// surface. Construction is wired with google/wire; see wire.go.
package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"medvoice/internal/adapters"
	"medvoice/internal/api"
	"medvoice/internal/breaker"
	"medvoice/internal/clips"
	"medvoice/internal/config"
	"medvoice/internal/events"
	"medvoice/internal/fallback"
	"medvoice/internal/logging"
	"medvoice/internal/metrics"
	"medvoice/internal/pipeline"
	"medvoice/internal/privacy"
	"medvoice/internal/provider"
	"medvoice/internal/session"
	"medvoice/internal/transcribe"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Container holds every long-lived component of a running instance.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Bus          *events.Bus
	Store        breaker.Store
	Registry     *provider.Registry
	Router       *privacy.Router
	Executor     *fallback.Executor
	Transcriber  *transcribe.Parallel
	Clips        clips.Store
	Orchestrator *pipeline.Orchestrator
	Sessions     *session.Manager
	Prober       *breaker.Prober
	Server       *api.Server

	redis        *redis.Client
	proberCancel context.CancelFunc
	proberDone   chan struct{}
}

// NewContainer bundles the wired components.
func NewContainer(
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	bus *events.Bus,
	rdb *redis.Client,
	store breaker.Store,
	registry *provider.Registry,
	router *privacy.Router,
	executor *fallback.Executor,
	transcriber *transcribe.Parallel,
	clipStore clips.Store,
	orchestrator *pipeline.Orchestrator,
	sessions *session.Manager,
	prober *breaker.Prober,
	server *api.Server,
) *Container {
	return &Container{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Bus:          bus,
		Store:        store,
		Registry:     registry,
		Router:       router,
		Executor:     executor,
		Transcriber:  transcriber,
		Clips:        clipStore,
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Prober:       prober,
		Server:       server,
		redis:        rdb,
	}
}

// Start launches the HTTP listener and the health prober. The returned
// channel reports a listener failure and closes on clean shutdown.
func (c *Container) Start() <-chan error {
	proberCtx, cancel := context.WithCancel(context.Background())
	c.proberCancel = cancel
	c.proberDone = make(chan struct{})
	go func() {
		defer close(c.proberDone)
		c.Prober.Run(proberCtx)
	}()
	return c.Server.Start()
}

// Shutdown stops the prober, drains the HTTP server, closes every session
// and releases shared resources. Safe to call if Start never ran.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.proberCancel != nil {
		c.proberCancel()
		select {
		case <-c.proberDone:
		case <-ctx.Done():
		}
	}

	err := c.Server.Shutdown(ctx)
	c.Sessions.CloseAll()
	c.Bus.Close()
	if c.redis != nil {
		if cerr := c.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	_ = c.Logger.Sync()
	return err
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.Log.Development, cfg.Log.Level)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func provideBus(logger *zap.Logger, m *metrics.Metrics) *events.Bus {
	return events.NewBus(logger, events.WithDropFunc(m.EventDropped))
}

// provideRedisClient returns nil unless the redis store backend is selected.
func provideRedisClient(cfg *config.Config) *redis.Client {
	if cfg.Store.Backend != config.StoreRedis {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})
}

func provideBreakerStore(cfg *config.Config, rdb *redis.Client) breaker.Store {
	if rdb != nil {
		return breaker.NewRedisStore(rdb, cfg.Store.Redis.KeyPrefix)
	}
	return breaker.NewMemoryStore()
}

// provideRegistry builds the provider registry and registers every
// configured adapter. Circuit transitions feed metrics, the event bus and
// the log.
func provideRegistry(ctx context.Context, cfg *config.Config, store breaker.Store, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry(func(pc provider.Config) *breaker.Breaker {
		return breaker.New(pc.Name, pc.BreakerSettings(), store,
			breaker.WithTransitionFunc(func(tr breaker.Transition) {
				m.BreakerTransition(tr.Provider, string(tr.To))
				bus.Publish(events.Event{Type: events.TypeBreakerTransition, Payload: tr})
				logger.Warn("circuit transition",
					zap.String("provider", tr.Provider),
					zap.String("from", string(tr.From)),
					zap.String("to", string(tr.To)),
					zap.String("reason", tr.Reason))
			}))
	})
	if err := adapters.Register(ctx, registry, cfg.Providers, logger); err != nil {
		return nil, err
	}
	return registry, nil
}

func provideDetector(cfg *config.Config) (*privacy.Detector, error) {
	return privacy.NewDetector(cfg.Privacy.Detector)
}

func providePrivacyRouter(cfg *config.Config, detector *privacy.Detector, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *privacy.Router {
	return privacy.NewRouter(cfg.Privacy, detector, bus, m, logger)
}

func provideExecutor(registry *provider.Registry, m *metrics.Metrics, logger *zap.Logger) *fallback.Executor {
	return fallback.NewExecutor(registry, m, logger)
}

func provideTranscriber(cfg *config.Config, registry *provider.Registry, m *metrics.Metrics, logger *zap.Logger) *transcribe.Parallel {
	return transcribe.NewParallel(cfg.Transcribe, registry, m, logger)
}

func provideClips(ctx context.Context, cfg *config.Config, logger *zap.Logger) (clips.Store, error) {
	switch cfg.Clips.Backend {
	case config.ClipsDir:
		return clips.NewDirStore(cfg.Clips.Dir, logger)
	case config.ClipsMinio:
		return clips.NewMinioStore(ctx, cfg.Clips.Minio, logger)
	default:
		return clips.DefaultStatic(), nil
	}
}

func provideOrchestrator(cfg *config.Config, executor *fallback.Executor, transcriber *transcribe.Parallel, router *privacy.Router, clipStore clips.Store, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *pipeline.Orchestrator {
	return pipeline.New(cfg.Pipeline, pipeline.Deps{
		Executor:    executor,
		Transcriber: transcriber,
		Router:      router,
		Clips:       clipStore,
		Bus:         bus,
		Metrics:     m,
		Logger:      logger,
	})
}

func provideSessions(cfg *config.Config, orchestrator *pipeline.Orchestrator, clipStore clips.Store, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *session.Manager {
	return session.NewManager(cfg.Session, session.Deps{
		Orchestrator: orchestrator,
		Clips:        clipStore,
		Bus:          bus,
		Metrics:      m,
		Logger:       logger,
	})
}

// provideProber watches every provider that can answer a ping.
func provideProber(cfg *config.Config, registry *provider.Registry, logger *zap.Logger) *breaker.Prober {
	prober := breaker.NewProber(cfg.Breaker.ProbeInterval, logger)
	for _, e := range registry.All() {
		pinger, ok := e.Impl.(provider.Pinger)
		if !ok {
			continue
		}
		prober.Add(breaker.Target{
			Name:    e.Config.Name,
			Breaker: e.Breaker,
			Ping:    pinger.Ping,
			Timeout: e.Config.Timeout,
		})
	}
	return prober
}

func provideServer(cfg *config.Config, registry *provider.Registry, sessions *session.Manager, router *privacy.Router, m *metrics.Metrics, logger *zap.Logger) *api.Server {
	return api.New(api.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Environment:  cfg.Service.Environment,
		ServiceName:  cfg.Service.Name,
		Version:      Version,
	}, api.Deps{
		Registry: registry,
		Sessions: sessions,
		Privacy:  router,
		Metrics:  m,
		Logger:   logger,
	})
}
