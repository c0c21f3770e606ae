// Package relay carries events between resource processes over Redis
// pub/sub. Each process publishes under a shared prefix and re-emits foreign
// messages on its own local bus.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"game-framework/internal/db"
	"game-framework/internal/host"
	"game-framework/internal/metrics"
	"game-framework/internal/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Runtime is where relayed events are re-emitted.
type Runtime interface {
	NextTick(fn func()) host.Timer
	Emit(channel string, args ...any)
}

type Options struct {
	Prefix      string
	NodeID      string
	PresenceTTL time.Duration
	Logger      *zap.Logger
}

type Relay struct {
	client *redis.Client
	rt     Runtime
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(client *redis.Client, rt Runtime, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "gamefw:relay:"
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 30 * time.Second
	}
	return &Relay{
		client: client,
		rt:     rt,
		opts:   opts,
		logger: opts.Logger.With(zap.String("node", opts.NodeID)),
	}
}

func (r *Relay) NodeID() string { return r.opts.NodeID }

// Publish sends an event to every other node.
func (r *Relay) Publish(ctx context.Context, channel string, args ...any) error {
	data, err := transport.Marshal(&transport.Envelope{
		Channel: channel,
		Origin:  r.opts.NodeID,
		Args:    transport.WireArgs(args),
	})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, db.RelayChannel(r.opts.Prefix, channel), data).Err(); err != nil {
		return fmt.Errorf("relay publish %s: %w", channel, err)
	}
	metrics.RelayMessagesTotal.WithLabelValues("out").Inc()
	return nil
}

// Start subscribes to the relay prefix and announces this node. It returns
// once the subscription is confirmed. Later calls are no-ops.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	ps := r.client.PSubscribe(ctx, db.RelayPattern(r.opts.Prefix))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}
	if err := r.announce(ctx); err != nil {
		_ = ps.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.pubsub = ps
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.loop(loopCtx, ps.Channel())
	r.logger.Info("relay started", zap.String("prefix", r.opts.Prefix))
	return nil
}

// Close stops the subscription and withdraws the node.
func (r *Relay) Close() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	ps, cancel, done := r.pubsub, r.cancel, r.done
	r.mu.Unlock()

	cancel()
	err := ps.Close()
	<-done

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if delErr := r.client.Del(ctx, db.NodeKey(r.opts.Prefix, r.opts.NodeID)).Err(); delErr != nil {
		err = errors.Join(err, delErr)
	}
	return err
}

// Nodes lists the node ids currently announced under the prefix.
func (r *Relay) Nodes(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		nodes  []string
	)
	marker := db.NodeKey(r.opts.Prefix, "")
	for {
		keys, next, err := r.client.Scan(ctx, cursor, db.NodePattern(r.opts.Prefix), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("relay nodes: %w", err)
		}
		for _, k := range keys {
			nodes = append(nodes, strings.TrimPrefix(k, marker))
		}
		if next == 0 {
			return nodes, nil
		}
		cursor = next
	}
}

func (r *Relay) announce(ctx context.Context) error {
	key := db.NodeKey(r.opts.Prefix, r.opts.NodeID)
	if err := r.client.Set(ctx, key, time.Now().Unix(), r.opts.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("relay announce: %w", err)
	}
	return nil
}

func (r *Relay) loop(ctx context.Context, msgs <-chan *redis.Message) {
	defer close(r.done)

	refresh := time.NewTicker(r.opts.PresenceTTL / 2)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := r.announce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("relay presence refresh failed", zap.Error(err))
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg *redis.Message) {
	env, err := transport.Unmarshal([]byte(msg.Payload))
	if err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("malformed").Inc()
		r.logger.Warn("relay message dropped", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if env.Origin == r.opts.NodeID {
		return
	}
	metrics.RelayMessagesTotal.WithLabelValues("in").Inc()
	channel, args := env.Channel, env.Args
	r.rt.NextTick(func() { r.rt.Emit(channel, args...) })
}
