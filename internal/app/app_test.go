package app

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"game-framework/internal/config"
	"game-framework/internal/event"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func serverConfig() config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Bridge.ListenAddr = "127.0.0.1:0"
	cfg.Runtime.TickIntervalMs = 5
	cfg.Loader.PhaseTimeoutSec = 5
	cfg.Redis.HealthCheckIntervalSec = 0
	return cfg
}

// ================= fixtures =================

type probe struct {
	events *event.ServerService

	mu    sync.Mutex
	calls []string
	relay chan []any
}

func (p *probe) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
}

func (p *probe) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *probe) OnPing(args ...any) {
	p.record("ping")
	_ = p.events.EmitClient(args[0].(host.Entity), "pong", args[1:]...)
}

func (p *probe) OnRelayed(args ...any) {
	p.relay <- args
}

type probeModule struct {
	probe   *probe
	initErr error
}

func (m *probeModule) Name() string { return "probe" }

func (m *probeModule) Register(reg *Registrar) error {
	tok, err := reg.Provide("Probe", func(r registry.Resolver) (any, error) {
		ev, err := registry.Resolve[*event.ServerService](r, reg.Core().Events)
		if err != nil {
			return nil, err
		}
		m.probe.events = ev
		return m.probe, nil
	})
	if err != nil {
		return err
	}
	loader.On(reg.Store(), loader.Init, tok, "Init", func(p *probe, _ context.Context) error {
		p.record("init")
		return m.initErr
	})
	loader.On(reg.Store(), loader.Last, tok, "Ready", func(p *probe, _ context.Context) error {
		p.record("ready")
		return nil
	})
	reg.Events(tok).
		OnClient("ping", "OnPing", event.Bind((*probe).OnPing)).
		On("relayed", "OnRelayed", event.Bind((*probe).OnRelayed))
	return nil
}

type pinger struct {
	events *event.ClientService
	pongs  chan []any
}

func (p *pinger) Greet(context.Context) error {
	p.events.EmitServer("ping", "hi")
	return nil
}

func (p *pinger) OnPong(args ...any) { p.pongs <- args }

type pingerModule struct{ pinger *pinger }

func (m *pingerModule) Name() string { return "pinger" }

func (m *pingerModule) Register(reg *Registrar) error {
	tok, err := reg.Provide("Pinger", func(r registry.Resolver) (any, error) {
		ev, err := registry.Resolve[*event.ClientService](r, reg.Core().Events)
		if err != nil {
			return nil, err
		}
		m.pinger.events = ev
		return m.pinger, nil
	})
	if err != nil {
		return err
	}
	loader.On(reg.Store(), loader.Last, tok, "Greet", (*pinger).Greet)
	reg.Events(tok).OnServer("pong", "OnPong", event.Bind((*pinger).OnPong))
	return nil
}

type namedModule struct {
	name string
	err  error
	seen *[]string
}

func (m namedModule) Name() string { return m.name }

func (m namedModule) Register(reg *Registrar) error {
	*m.seen = append(*m.seen, m.name+":"+reg.Side().String())
	return m.err
}

// startServer builds s, binds it and runs it until the test ends.
func startServer(t *testing.T, s *Server) net.Addr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Build(ctx))
	addr, err := s.Listen()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, recv(t, done))
	})
	return addr
}

// ================= tests =================

func TestModulesRegisterInOrder(t *testing.T) {
	var seen []string
	mods := Modules{}.
		Add(func() Module { return namedModule{name: "a", seen: &seen} }).
		Add(func() Module { return namedModule{name: "b", seen: &seen} })

	s := NewServer(serverConfig(), mods, nil)
	require.NoError(t, s.Build(context.Background()))
	assert.Equal(t, []string{"a:server", "b:server"}, seen)
	assert.ErrorIs(t, s.Build(context.Background()), ErrAlreadyBuilt)
}

func TestModuleRegisterErrors(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	s := NewServer(serverConfig(), Modules{func() Module { return namedModule{name: "bad", err: boom, seen: &seen} }}, nil)
	err := s.Build(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "register module bad")

	c := NewClient(config.DefaultClientConfig(), Modules{func() Module { return namedModule{seen: &seen} }}, nil)
	assert.ErrorIs(t, c.Build(context.Background()), ErrEmptyModuleName)
}

func TestServerAndClientRoundTrip(t *testing.T) {
	p := &probe{}
	s := NewServer(serverConfig(), Modules{func() Module { return &probeModule{probe: p} }}, nil)
	addr := startServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Loader().Wait(ctx))
	assert.Equal(t, []string{"init", "ready"}, p.snapshot())

	root, err := registry.Resolve[*Resource](s.Container(), s.root)
	require.NoError(t, err)
	assert.Equal(t, []any{p}, root.Components)

	ccfg := config.DefaultClientConfig()
	ccfg.ServerURL = "ws://" + addr.String() + "/ws"
	ccfg.Runtime.TickIntervalMs = 5
	ccfg.Loader.PhaseTimeoutSec = 5
	pg := &pinger{pongs: make(chan []any, 1)}
	c := NewClient(ccfg, Modules{func() Module { return &pingerModule{pinger: pg} }}, nil)
	require.NoError(t, c.Build(context.Background()))

	cctx, ccancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(cctx) }()
	defer func() {
		ccancel()
		assert.NoError(t, recv(t, done))
	}()

	assert.Equal(t, []any{"hi"}, recv(t, pg.pongs))
	require.NoError(t, c.Loader().Wait(ctx))
	require.NotNil(t, c.Events().LocalPlayer())
	assert.Contains(t, p.snapshot(), "ping")
	assert.Equal(t, 1, s.Bridge().Connections())
}

func TestBootstrapFailureStopsServer(t *testing.T) {
	boom := errors.New("boom")
	s := NewServer(serverConfig(), Modules{func() Module { return &probeModule{probe: &probe{}, initErr: boom} }}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var hookErr *loader.HookError
	assert.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "Init", hookErr.Method)
}

func TestRelayBetweenServers(t *testing.T) {
	mr := miniredis.RunT(t)
	newRedis := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	build := func(node string, p *probe) *Server {
		cfg := serverConfig()
		cfg.Relay.Enabled = true
		cfg.Relay.NodeID = node
		return NewServer(cfg, Modules{func() Module { return &probeModule{probe: p} }}, nil).UseRedis(newRedis())
	}

	pa := &probe{relay: make(chan []any, 1)}
	pb := &probe{relay: make(chan []any, 1)}
	a, b := build("node-a", pa), build("node-b", pb)
	startServer(t, a)
	startServer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, a.Loader().Wait(ctx))
	require.NoError(t, b.Loader().Wait(ctx))

	nodes, err := a.Relay().Nodes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, nodes)

	require.NoError(t, a.Relay().Publish(ctx, "relayed", "hello"))
	assert.Equal(t, []any{"hello"}, recv(t, pb.relay))
	assert.Len(t, pa.relay, 0)
}

type consoleRuntime struct {
	mu    sync.Mutex
	lines [][]string
}

func (c *consoleRuntime) NextTick(fn func()) host.Timer {
	fn()
	return 0
}

func (c *consoleRuntime) ConsoleCommand(name string, args ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, append([]string{name}, args...))
}

func TestReadConsole(t *testing.T) {
	rt := &consoleRuntime{}
	in := strings.NewReader("say hello world\n\n   \n/players\n")
	require.NoError(t, ReadConsole(context.Background(), in, rt))
	assert.Equal(t, [][]string{{"say", "hello", "world"}, {"/players"}}, rt.lines)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt = &consoleRuntime{}
	require.NoError(t, ReadConsole(ctx, strings.NewReader("say x\n"), rt))
	assert.Empty(t, rt.lines)
}
