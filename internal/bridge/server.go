// Package bridge connects client runtimes to the server runtime over
// websockets. Inbound events land on the server's remote bus with the sending
// player prepended; remote emits go back out to the clients.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"game-framework/internal/host"
	"game-framework/internal/metrics"
	"game-framework/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrPlayerNotConnected = errors.New("player not connected")

// Runtime is the part of the host runtime the bridge drives.
type Runtime interface {
	NextTick(fn func()) host.Timer
	Emit(channel string, args ...any)
	Deliver(channel string, args ...any)
	SetOutbound(o host.Outbound)
}

type ServerOptions struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	StatsInterval     time.Duration
	// RateLimit is the sustained inbound events per second per connection.
	RateLimit float64
	Burst     int
	UseJSON   bool
	Logger    *zap.Logger
}

type Server struct {
	rt       Runtime
	logger   *zap.Logger
	opts     ServerOptions
	sessions *SessionManager
	upgrader websocket.Upgrader

	nextID atomic.Uint32

	heartbeatTimeoutCount atomic.Uint64
	rateLimitedCount      atomic.Uint64
	malformedCount        atomic.Uint64
}

func NewServer(rt Runtime, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	s := &Server{
		rt:       rt,
		logger:   opts.Logger,
		opts:     opts,
		sessions: NewSessionManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	rt.SetOutbound(s)
	return s
}

// Handler serves /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.serveWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.serveHealth)
	return r
}

// Run drives the heartbeat and stats loops until ctx is done, then closes
// every connection.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.heartbeatLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.reportStats(ctx, s.opts.StatsInterval)
		return nil
	})
	err := g.Wait()
	for _, sess := range s.sessions.snapshot() {
		sess.close("shutdown")
	}
	return err
}

// ListenAndServe serves Handler on addr alongside Run until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener, which it closes on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("bridge listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ================= outbound =================

// Send broadcasts an event to every connected client.
func (s *Server) Send(channel string, args []any) error {
	env := &transport.Envelope{Channel: channel, Args: transport.WireArgs(args)}
	var errs []error
	for _, sess := range s.sessions.snapshot() {
		if err := sess.conn.WriteEnvelope(env); err != nil {
			errs = append(errs, fmt.Errorf("player %d: %w", sess.Player.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// EmitTo sends an event to one player.
func (s *Server) EmitTo(player host.Entity, channel string, args ...any) error {
	sess := s.sessions.Get(player.ID())
	if sess == nil {
		return fmt.Errorf("%w: %d", ErrPlayerNotConnected, player.ID())
	}
	return sess.conn.WriteEnvelope(&transport.Envelope{Channel: channel, Args: transport.WireArgs(args)})
}

// Player looks up a connected player by id.
func (s *Server) Player(id uint32) (*Player, bool) {
	sess := s.sessions.Get(id)
	if sess == nil {
		return nil, false
	}
	return sess.Player, true
}

func (s *Server) Connections() int {
	return s.sessions.Len()
}

// Kick closes a player's connection.
func (s *Server) Kick(id uint32, reason string) error {
	sess := s.sessions.Get(id)
	if sess == nil {
		return fmt.Errorf("%w: %d", ErrPlayerNotConnected, id)
	}
	sess.close(reason)
	return nil
}

// ================= connections =================

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := transport.NewWSConn(ws, s.opts.UseJSON)
	player := newPlayer(s.nextID.Add(1), uuid.NewString())
	sess := newSession(player, conn, rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Burst))

	if err := conn.WriteEnvelope(&transport.Envelope{Channel: ChannelSessionInit, Args: []any{player.ID()}}); err != nil {
		s.logger.Warn("session init failed", append(playerFields(player), zap.Error(err))...)
		_ = conn.Close()
		return
	}
	s.sessions.Add(sess)
	metrics.BridgeConnections.Inc()
	s.logger.Info("player connected", append(playerFields(player), zap.String("remote", r.RemoteAddr))...)

	s.rt.NextTick(func() {
		s.rt.Emit(host.EventGameEntityCreate, player)
		s.rt.Emit(host.EventPlayerConnect, player)
	})

	s.readLoop(sess)
}

func (s *Server) readLoop(sess *Session) {
	player := sess.Player
	defer s.onClose(sess)

	for {
		env, err := sess.conn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedEnvelope) {
				s.malformedCount.Add(1)
				metrics.BridgeRejectedTotal.WithLabelValues("malformed").Inc()
				continue
			}
			return
		}
		sess.touch()
		if env.Channel == ChannelHeartbeat {
			continue
		}
		if !sess.limiter.Allow() {
			s.rateLimitedCount.Add(1)
			metrics.BridgeRejectedTotal.WithLabelValues("rate_limited").Inc()
			continue
		}
		args := make([]any, 0, len(env.Args)+1)
		args = append(args, player)
		args = append(args, env.Args...)
		channel := env.Channel
		s.rt.NextTick(func() { s.rt.Deliver(channel, args...) })
	}
}

func (s *Server) onClose(sess *Session) {
	sess.close("read_error")
	s.sessions.Remove(sess.Player.ID())
	metrics.BridgeConnections.Dec()
	s.logger.Info("player disconnected", append(playerFields(sess.Player), zap.String("reason", sess.closeReason()))...)

	player := sess.Player
	s.rt.NextTick(func() {
		s.rt.Emit(host.EventPlayerDisconnect, player)
		s.rt.Emit(host.EventGameEntityDestroy, player)
	})
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.sessions.Len(),
	})
}

func playerFields(p *Player) []zap.Field {
	if p == nil {
		return []zap.Field{
			zap.Uint32("player", 0),
			zap.String("trace_id", ""),
		}
	}
	return []zap.Field{
		zap.Uint32("player", p.ID()),
		zap.String("trace_id", p.TraceID()),
	}
}
