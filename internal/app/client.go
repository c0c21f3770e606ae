package app

import (
	"context"
	"sync"
	"time"

	"game-framework/internal/annotation"
	"game-framework/internal/bridge"
	"game-framework/internal/common/logging"
	"game-framework/internal/config"
	"game-framework/internal/event"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChannelSessionReady is emitted on the client's local bus once the server
// has assigned the local player. Client bootstrap waits for it unless the
// loader config names another channel.
const ChannelSessionReady = "session:ready"

// Client is the client half of a resource.
type Client struct {
	cfg     config.ClientConfig
	modules Modules
	logger  *zap.Logger

	mu        sync.Mutex
	built     bool
	rt        *host.Local
	store     *annotation.Store
	container *registry.Container
	events    *event.ClientService
	conn      *bridge.Client
	loader    *loader.Loader
	root      *registry.Token
	core      Core
}

func NewClient(cfg config.ClientConfig, modules Modules, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, modules: modules, logger: logger}
}

func (c *Client) Runtime() *host.Local { return c.rt }
func (c *Client) Events() *event.ClientService { return c.events }
func (c *Client) Loader() *loader.Loader { return c.loader }
func (c *Client) Container() *registry.Container { return c.container }

// Build wires the runtime, the event service and modules. The bridge
// connection is made by Run.
func (c *Client) Build(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built {
		return ErrAlreadyBuilt
	}
	cfg := c.cfg

	c.rt = host.NewLocal(logging.Component(c.logger, "runtime"), host.Options{
		TickInterval: time.Duration(cfg.Runtime.TickIntervalMs) * time.Millisecond,
		QueueSize:    cfg.Runtime.QueueSize,
	})
	c.store = annotation.NewStore()
	c.container = registry.NewContainer()
	c.events = event.NewClientService(c.rt, c.store, c.container, event.Options{
		Logger:          logging.Component(c.logger, "events"),
		CommandPrefix:   cfg.Events.CommandPrefix,
		PropagatePanics: cfg.Events.PropagatePanics,
	})

	c.core = Core{
		Runtime: registry.NewToken("Runtime"),
		Events:  registry.NewToken("EventService"),
	}
	if err := registerValues(c.container, map[*registry.Token]any{
		c.core.Runtime: c.rt,
		c.core.Events:  c.events,
	}); err != nil {
		return err
	}
	loader.On(c.store, loader.After, c.core.Events, "StartEventListeners", (*event.ClientService).StartEventListeners)

	reg := newRegistrar(SideClient, c.store, c.container, c.core, logging.Component(c.logger, "module"))
	if err := reg.register(c.modules.Create()); err != nil {
		return err
	}
	root, err := reg.provideRoot()
	if err != nil {
		return err
	}
	c.root = root

	loaderCfg := cfg.Loader
	if loaderCfg.WaitFor == "" {
		loaderCfg.WaitFor = ChannelSessionReady
	}
	c.loader = newLoader(c.store, c.container, c.rt, loaderCfg, logging.Component(c.logger, "loader"))
	c.built = true
	c.logger.Info("resource built",
		zap.Stringer("side", SideClient),
		zap.Int("modules", len(c.modules)),
		zap.Int("components", len(reg.Tokens())),
	)
	return nil
}

// Run builds the resource if needed, connects to the server and drives the
// runtime and bootstrap until ctx is done or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	built := c.built
	c.mu.Unlock()
	if !built {
		if err := c.Build(ctx); err != nil {
			return err
		}
	}

	conn, err := bridge.Dial(ctx, c.cfg.ServerURL, c.rt, bridge.ClientOptions{
		HeartbeatInterval: seconds(c.cfg.HeartbeatIntervalSec),
		UseJSON:           c.cfg.UseJSON,
		OnSession:         c.onSession,
		Logger:            logging.Component(c.logger, "bridge"),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	// The session signal may arrive as soon as the connection is read, so the
	// loader must be listening first.
	g.Go(bootstrap(gctx, c.loader, c.root, c.logger))
	g.Go(func() error { return c.rt.Run(gctx) })
	g.Go(func() error {
		// A dropped connection ends the client.
		defer cancel()
		return conn.Run(gctx)
	})
	err = g.Wait()
	c.logger.Info("resource stopped", zap.Stringer("side", SideClient))
	return err
}

// Close drops the server connection, which ends Run.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) onSession(player host.Entity) {
	c.events.SetLocalPlayer(player)
	c.rt.Emit(ChannelSessionReady, player)
}
