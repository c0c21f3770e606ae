package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"game-framework/internal/host"
	"game-framework/internal/transport"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrClientClosed = errors.New("bridge client closed")

type ClientOptions struct {
	HeartbeatInterval time.Duration
	UseJSON           bool
	// OnSession runs on the runtime's next tick once the server has assigned
	// the local player.
	OnSession func(player host.Entity)
	Logger    *zap.Logger
}

// Client is the client-side end of the bridge. It implements host.Outbound.
type Client struct {
	rt     Runtime
	conn   transport.Conn
	logger *zap.Logger
	opts   ClientOptions

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a bridge server at url (ws://host/ws) and installs the
// client as rt's outbound.
func Dial(ctx context.Context, url string, rt Runtime, opts ClientOptions) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", url, err)
	}
	c := &Client{
		rt:     rt,
		conn:   transport.NewWSConn(ws, opts.UseJSON),
		logger: opts.Logger,
		opts:   opts,
		closed: make(chan struct{}),
	}
	rt.SetOutbound(c)
	return c, nil
}

func (c *Client) Send(channel string, args []any) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	return c.conn.WriteEnvelope(&transport.Envelope{Channel: channel, Args: transport.WireArgs(args)})
}

// Run reads server events and sends heartbeats until ctx is done or the
// connection drops.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Close()
		return c.readLoop()
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.Close()
				return nil
			case <-c.closed:
				return nil
			case <-ticker.C:
				if err := c.Send(ChannelHeartbeat, nil); err != nil {
					c.logger.Warn("heartbeat failed", zap.Error(err))
				}
			}
		}
	})
	return g.Wait()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() error {
	for {
		env, err := c.conn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedEnvelope) {
				c.logger.Warn("malformed envelope from server", zap.Error(err))
				continue
			}
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("bridge read: %w", err)
		}
		if env.Channel == ChannelSessionInit {
			c.onSessionInit(env.Args)
			continue
		}
		channel, args := env.Channel, env.Args
		c.rt.NextTick(func() { c.rt.Deliver(channel, args...) })
	}
}

func (c *Client) onSessionInit(args []any) {
	if len(args) == 0 {
		c.logger.Warn("session init without player id")
		return
	}
	id, ok := asID(args[0])
	if !ok {
		c.logger.Warn("session init with bad player id", zap.Any("value", args[0]))
		return
	}
	player := host.NewEntity(id, host.EntityPlayer)
	c.logger.Info("session assigned", zap.Uint32("player", id))
	if c.opts.OnSession != nil {
		c.rt.NextTick(func() { c.opts.OnSession(player) })
	}
}
