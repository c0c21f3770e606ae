package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"game-framework/internal/annotation"
	"game-framework/internal/bridge"
	"game-framework/internal/common/logging"
	"game-framework/internal/config"
	"game-framework/internal/db"
	"game-framework/internal/event"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"
	"game-framework/internal/relay"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyBuilt = errors.New("resource already built")

// Server is the server half of a resource.
type Server struct {
	cfg     config.ServerConfig
	modules Modules
	logger  *zap.Logger

	mu        sync.Mutex
	built     bool
	rt        *host.Local
	store     *annotation.Store
	container *registry.Container
	events    *event.ServerService
	bridge    *bridge.Server
	redis     *redis.Client
	ownRedis  bool
	relay     *relay.Relay
	loader    *loader.Loader
	root      *registry.Token
	ln        net.Listener
}

func NewServer(cfg config.ServerConfig, modules Modules, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, modules: modules, logger: logger}
}

// UseRedis makes the relay use client instead of dialing cfg.Redis. The
// caller keeps ownership of client.
func (s *Server) UseRedis(client *redis.Client) *Server {
	s.redis = client
	return s
}

func (s *Server) Runtime() *host.Local { return s.rt }
func (s *Server) Events() *event.ServerService { return s.events }
func (s *Server) Bridge() *bridge.Server { return s.bridge }
func (s *Server) Relay() *relay.Relay { return s.relay }
func (s *Server) Loader() *loader.Loader { return s.loader }
func (s *Server) Container() *registry.Container { return s.container }
func (s *Server) Store() *annotation.Store { return s.store }

// Build wires the runtime, framework components and modules. It does not
// start anything.
func (s *Server) Build(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.built {
		return ErrAlreadyBuilt
	}
	cfg := s.cfg

	s.rt = host.NewLocal(logging.Component(s.logger, "runtime"), host.Options{
		TickInterval: time.Duration(cfg.Runtime.TickIntervalMs) * time.Millisecond,
		QueueSize:    cfg.Runtime.QueueSize,
	})
	s.store = annotation.NewStore()
	s.container = registry.NewContainer()
	s.bridge = bridge.NewServer(s.rt, bridge.ServerOptions{
		HeartbeatInterval: seconds(cfg.Bridge.HeartbeatIntervalSec),
		HeartbeatTimeout:  seconds(cfg.Bridge.HeartbeatTimeoutSec),
		StatsInterval:     seconds(cfg.Bridge.StatsIntervalSec),
		RateLimit:         cfg.Bridge.RateLimit,
		Burst:             cfg.Bridge.Burst,
		UseJSON:           cfg.Bridge.UseJSON,
		Logger:            logging.Component(s.logger, "bridge"),
	})
	s.events = event.NewServerService(s.rt, s.store, s.container, s.bridge, event.Options{
		Logger:          logging.Component(s.logger, "events"),
		CommandPrefix:   cfg.Events.CommandPrefix,
		PropagatePanics: cfg.Events.PropagatePanics,
	})

	core := Core{
		Runtime: registry.NewToken("Runtime"),
		Events:  registry.NewToken("EventService"),
		Bridge:  registry.NewToken("Bridge"),
	}
	if err := registerValues(s.container, map[*registry.Token]any{
		core.Runtime: s.rt,
		core.Events:  s.events,
		core.Bridge:  s.bridge,
	}); err != nil {
		return err
	}
	// Listeners go live after every Before hook has run.
	loader.On(s.store, loader.After, core.Events, "StartEventListeners", (*event.ServerService).StartEventListeners)

	if cfg.Relay.Enabled {
		if err := s.buildRelay(ctx, &core); err != nil {
			return err
		}
	}

	reg := newRegistrar(SideServer, s.store, s.container, core, logging.Component(s.logger, "module"))
	if err := reg.register(s.modules.Create()); err != nil {
		return err
	}
	root, err := reg.provideRoot()
	if err != nil {
		return err
	}
	s.root = root

	s.loader = newLoader(s.store, s.container, s.rt, cfg.Loader, logging.Component(s.logger, "loader"))
	s.built = true
	s.logger.Info("resource built",
		zap.Stringer("side", SideServer),
		zap.Int("modules", len(s.modules)),
		zap.Int("components", len(reg.Tokens())),
		zap.Bool("relay", s.relay != nil),
	)
	return nil
}

func (s *Server) buildRelay(ctx context.Context, core *Core) error {
	if s.redis == nil {
		client, err := db.NewRedisClient(ctx, s.cfg.Redis)
		if err != nil {
			return err
		}
		s.redis = client
		s.ownRedis = true
	}
	s.relay = relay.New(s.redis, s.rt, relay.Options{
		Prefix:      s.cfg.Relay.Prefix,
		NodeID:      s.cfg.Relay.NodeID,
		PresenceTTL: seconds(s.cfg.Relay.PresenceTTLSec),
		Logger:      logging.Component(s.logger, "relay"),
	})
	core.Relay = registry.NewToken("Relay")
	core.Redis = registry.NewToken("Redis")
	if err := registerValues(s.container, map[*registry.Token]any{
		core.Relay: s.relay,
		core.Redis: s.redis,
	}); err != nil {
		return err
	}
	loader.On(s.store, loader.Before, core.Relay, "Start", (*relay.Relay).Start, loader.WithOrder(-1))
	return nil
}

// Listen binds the bridge address ahead of Run and reports it.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		ln, err := net.Listen("tcp", s.cfg.Bridge.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("bridge listen %s: %w", s.cfg.Bridge.ListenAddr, err)
		}
		s.ln = ln
	}
	return s.ln.Addr(), nil
}

// Run builds the resource if needed, then drives the runtime, the bridge and
// bootstrap until ctx is done or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	built := s.built
	s.mu.Unlock()
	if !built {
		if err := s.Build(ctx); err != nil {
			return err
		}
	}
	if _, err := s.Listen(); err != nil {
		return err
	}
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(bootstrap(gctx, s.loader, s.root, s.logger))
	g.Go(func() error { return s.rt.Run(gctx) })
	g.Go(func() error { return s.bridge.Serve(gctx, s.ln) })
	if s.redis != nil && s.cfg.Redis.HealthCheckIntervalSec > 0 {
		db.StartHealthCheck(gctx, s.redis, logging.Component(s.logger, "redis"), seconds(s.cfg.Redis.HealthCheckIntervalSec))
	}
	return g.Wait()
}

func (s *Server) close() {
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			s.logger.Warn("relay close failed", zap.Error(err))
		}
	}
	if s.ownRedis {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	s.logger.Info("resource stopped", zap.Stringer("side", SideServer))
}

// ================= shared =================

func registerValues(c *registry.Container, values map[*registry.Token]any) error {
	for token, v := range values {
		if err := c.Register(token, registry.Value(v)); err != nil {
			return err
		}
	}
	return nil
}

func newLoader(store *annotation.Store, container *registry.Container, bus host.Bus, cfg config.LoaderConfig, logger *zap.Logger) *loader.Loader {
	l := loader.New(store, container, bus, loader.Options{
		PhaseTimeout: seconds(cfg.PhaseTimeoutSec),
		SettleDelay:  time.Duration(cfg.SettleDelayMs) * time.Millisecond,
		DoneChannel:  cfg.DoneChannel,
		Logger:       logger,
	})
	if cfg.WaitFor != "" {
		l.WaitFor(cfg.WaitFor)
	}
	return l
}

// bootstrap starts the loader right away and returns a func that waits for
// it. Cancellation is not an error.
func bootstrap(ctx context.Context, l *loader.Loader, root *registry.Token, logger *zap.Logger) func() error {
	started := time.Now()
	l.Bootstrap(ctx, root).Done(func() {
		logger.Info("resource started", zap.Int("hooks", l.Invoked()), zap.Duration("elapsed", time.Since(started)))
	})
	return func() error {
		err := l.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		return nil
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
