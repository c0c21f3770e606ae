package event

import (
	"context"
	"errors"
	"sync/atomic"

	"game-framework/internal/annotation"
	"game-framework/internal/handler"
	"game-framework/internal/host"
	"game-framework/internal/metrics"

	"go.uber.org/zap"
)

// ClientService is the client-side event service. Server events arrive on the
// runtime's remote bus; key handlers receive the local player.
type ClientService struct {
	*Base
	keys   map[Type]*handler.Registry[int, binding]
	player atomic.Pointer[host.Entity]
}

func NewClientService(rt host.Runtime, store *annotation.Store, resolver Resolver, opts Options) *ClientService {
	c := &ClientService{
		Base: newBase(rt, store, resolver, opts),
		keys: map[Type]*handler.Registry[int, binding]{
			TypeKeyUp:   handler.NewRegistry[int, binding](),
			TypeKeyDown: handler.NewRegistry[int, binding](),
		},
	}
	remote := subscriber{bus: busRemote, on: c.OnServer, off: rt.Remote().Off}
	c.subscribers[TypeOnServer] = remote
	c.subscribers[TypeOnceServer] = subscriber{bus: busRemote, on: c.OnceServer, off: rt.Remote().Off}
	c.subscribers[TypeOffOnServer] = remote

	c.loaders[GroupKey] = c.loadKeys
	c.steps = append(c.steps, step{label: "key", keys: []annotation.Key{GroupKey}})
	return c
}

// SetLocalPlayer records the player this client controls.
func (c *ClientService) SetLocalPlayer(p host.Entity) {
	c.player.Store(&p)
}

func (c *ClientService) LocalPlayer() host.Entity {
	p := c.player.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (c *ClientService) OnServer(channel string, l host.Listener) host.Handle {
	return c.rt.Remote().On(channel, l)
}

func (c *ClientService) OnceServer(channel string, l host.Listener) host.Handle {
	return c.rt.Remote().Once(channel, l)
}

// OffServer detaches server subscriptions. With no handles it runs every
// detach closure recorded for channel.
func (c *ClientService) OffServer(channel string, handles ...host.Handle) {
	if len(handles) == 0 {
		c.runOffs(busRemote, channel)
		return
	}
	for _, h := range handles {
		c.rt.Remote().Off(channel, h)
	}
}

func (c *ClientService) EmitServer(channel string, args ...any) {
	c.rt.Remote().Emit(channel, args...)
}

// loadKeys files key descriptors by key code. Only the first handler for a
// (type, key code) pair is kept.
func (c *ClientService) loadKeys(_ context.Context, key annotation.Key, group []Descriptor) error {
	for _, d := range group {
		table, ok := c.keys[d.Type]
		if !ok {
			continue
		}
		code := d.Options.KeyboardKey
		if _, exists := table.Get(code); exists {
			c.logger.Debug("duplicate key handler ignored",
				zap.String("type", string(d.Type)),
				zap.Int("key", code),
				zap.String("target", d.TargetName),
			)
			continue
		}
		bd, ok := c.bind(d)
		if !ok {
			continue
		}
		if err := table.Register(code, bd); err != nil && !errors.Is(err, handler.ErrAlreadyRegistered) {
			return err
		}
	}

	installed := 0
	for _, t := range []Type{TypeKeyUp, TypeKeyDown} {
		table := c.keys[t]
		if table.Len() == 0 {
			continue
		}
		c.rt.On(string(t), func(args ...any) {
			if len(args) == 0 {
				return
			}
			code, ok := asInt(args[0])
			if !ok {
				return
			}
			bd, ok := table.Get(code)
			if !ok {
				return
			}
			c.call(bd, []any{c.LocalPlayer()})
		})
		installed++
	}
	metrics.EventSubscriptions.WithLabelValues(string(key)).Add(float64(installed))
	return nil
}

// KeyHandlers reports how many key codes have a handler for t.
func (c *ClientService) KeyHandlers(t Type) int {
	table, ok := c.keys[t]
	if !ok {
		return 0
	}
	return table.Len()
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
