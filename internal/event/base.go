// Package event turns registered event descriptors into live subscriptions on
// the host runtime and routes each event to the bound component instances.
package event

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"game-framework/internal/annotation"
	"game-framework/internal/host"
	"game-framework/internal/metrics"

	"go.uber.org/zap"
)

// Resolver yields every instance registered under a component name.
type Resolver interface {
	ResolveAll(name string) ([]any, error)
}

type Options struct {
	Logger *zap.Logger
	// CommandPrefix is stripped from console commands; defaults to "/".
	CommandPrefix string
	// PropagatePanics disables per-handler panic recovery.
	PropagatePanics bool
}

// LoadFunc installs one descriptor group.
type LoadFunc func(ctx context.Context, key annotation.Key, group []Descriptor) error

// busKind tells the local bus from the bus facing the other side.
type busKind int

const (
	busLocal busKind = iota
	busRemote
)

type subscriber struct {
	bus busKind
	on  func(channel string, l host.Listener) host.Handle
	off func(channel string, h host.Handle)
}

type offKey struct {
	bus     busKind
	channel string
}

type step struct {
	label string
	keys  []annotation.Key
}

type binding struct {
	desc      Descriptor
	instances []any
}

// Base is the engine shared by the server and client services.
type Base struct {
	rt       host.Runtime
	store    *annotation.Store
	resolver Resolver
	logger   *zap.Logger
	opts     Options

	subscribers map[Type]subscriber
	loaders     map[annotation.Key]LoadFunc
	steps       []step
	commands    *CommandTable

	mu      sync.Mutex
	offs    map[offKey][]func()
	started bool
}

func newBase(rt host.Runtime, store *annotation.Store, resolver Resolver, opts Options) *Base {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = DefaultCommandPrefix
	}
	b := &Base{
		rt:          rt,
		store:       store,
		resolver:    resolver,
		logger:      opts.Logger,
		opts:        opts,
		subscribers: make(map[Type]subscriber),
		offs:        make(map[offKey][]func()),
		commands:    NewCommandTable(opts.CommandPrefix, opts.Logger),
	}
	local := subscriber{on: rt.On, off: rt.Off}
	b.subscribers[TypeOn] = local
	b.subscribers[TypeOnce] = subscriber{on: rt.Once, off: rt.Off}
	b.subscribers[TypeOffOn] = local

	b.loaders = map[annotation.Key]LoadFunc{
		GroupBase:     b.loadChannels,
		GroupOff:      b.loadChannels,
		GroupEntity:   b.loadEntity,
		GroupColShape: b.loadColShape,
		GroupCommand:  b.loadCommands,
	}
	b.steps = []step{
		{label: "base", keys: []annotation.Key{GroupBase}},
		{label: "off", keys: []annotation.Key{GroupOff}},
		{label: "entity", keys: []annotation.Key{GroupEntity, GroupColShape}},
		{label: "command", keys: []annotation.Key{GroupCommand}},
	}
	return b
}

// ================= primitives =================

func (b *Base) On(channel string, l host.Listener) host.Handle {
	return b.rt.On(channel, l)
}

// OnResetable subscribes l and records a detach closure so that Off(channel)
// without handles removes it.
func (b *Base) OnResetable(channel string, l host.Listener) host.Handle {
	h := b.rt.On(channel, l)
	b.trackOff(busLocal, channel, func() { b.rt.Off(channel, h) })
	return h
}

func (b *Base) Once(channel string, l host.Listener) host.Handle {
	return b.rt.Once(channel, l)
}

// Off detaches the given subscriptions. With no handles it runs every detach
// closure recorded for channel on the local bus.
func (b *Base) Off(channel string, handles ...host.Handle) {
	if len(handles) == 0 {
		b.runOffs(busLocal, channel)
		return
	}
	for _, h := range handles {
		b.rt.Off(channel, h)
	}
}

func (b *Base) Emit(channel string, args ...any) {
	b.rt.Emit(channel, args...)
}

// Commands exposes the console command table.
func (b *Base) Commands() *CommandTable { return b.commands }

func (b *Base) trackOff(bus busKind, channel string, fn func()) {
	k := offKey{bus: bus, channel: channel}
	b.mu.Lock()
	b.offs[k] = append(b.offs[k], fn)
	b.mu.Unlock()
}

func (b *Base) runOffs(bus busKind, channel string) {
	k := offKey{bus: bus, channel: channel}
	b.mu.Lock()
	fns := b.offs[k]
	delete(b.offs, k)
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ================= startup =================

// ResolveAndLoadEvents hands each non-empty group under keys to fn. Every key
// is visited even when an earlier one failed; the errors are joined.
func (b *Base) ResolveAndLoadEvents(ctx context.Context, keys []annotation.Key, label string, fn LoadFunc) error {
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		group := Descriptors(b.store, key)
		if len(group) == 0 {
			continue
		}
		if err := fn(ctx, key, group); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", label, key, err))
			continue
		}
		b.logger.Info("events registered",
			zap.String("label", label),
			zap.String("group", string(key)),
			zap.Int("count", len(group)),
		)
	}
	return errors.Join(errs...)
}

// StartEventListeners installs every descriptor group, one step after the
// other. It runs once; later calls return ErrAlreadyStarted.
func (b *Base) StartEventListeners(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	for _, s := range b.steps {
		if err := b.ResolveAndLoadEvents(ctx, s.keys, s.label, b.load); err != nil {
			return err
		}
	}
	return nil
}

func (b *Base) load(ctx context.Context, key annotation.Key, group []Descriptor) error {
	fn, ok := b.loaders[key]
	if !ok {
		b.logger.Warn("no loader for event group", zap.String("group", string(key)))
		return nil
	}
	return fn(ctx, key, group)
}

// ================= groups =================

// loadChannels installs base and off events: one subscription per
// (type, event name), fanning out to every bound descriptor.
func (b *Base) loadChannels(_ context.Context, key annotation.Key, group []Descriptor) error {
	type channelKey struct {
		t     Type
		event string
	}
	var order []channelKey
	bound := make(map[channelKey][]binding)
	resetable := make(map[channelKey]bool)

	for _, d := range dedupe(group) {
		if _, ok := b.subscribers[d.Type]; !ok {
			b.logger.Warn("event type not supported here",
				zap.String("type", string(d.Type)),
				zap.String("event", d.EventName),
				zap.String("target", d.TargetName),
			)
			continue
		}
		bd, ok := b.bind(d)
		if !ok {
			continue
		}
		ck := channelKey{t: d.Type, event: d.EventName}
		if _, seen := bound[ck]; !seen {
			order = append(order, ck)
		}
		bound[ck] = append(bound[ck], bd)
		if d.Resetable || key == GroupOff {
			resetable[ck] = true
		}
	}

	for _, ck := range order {
		sub := b.subscribers[ck.t]
		bindings := bound[ck]
		h := sub.on(ck.event, func(args ...any) {
			for _, bd := range bindings {
				b.call(bd, args)
			}
		})
		if resetable[ck] {
			channel := ck.event
			b.trackOff(sub.bus, channel, func() { sub.off(channel, h) })
		}
	}
	metrics.EventSubscriptions.WithLabelValues(string(key)).Add(float64(len(order)))
	return nil
}

// loadEntity installs one subscription per entity or meta change type. The
// listener receives (entity, key?, value?, oldValue?).
func (b *Base) loadEntity(_ context.Context, key annotation.Key, group []Descriptor) error {
	byType, order := b.bindByType(group)
	for _, t := range order {
		bindings := byType[t]
		b.rt.On(string(t), func(args ...any) {
			if len(args) == 0 {
				return
			}
			ent, _ := args[0].(host.Entity)
			for _, bd := range bindings {
				o := bd.desc.Options
				if o.Entity != 0 && (ent == nil || ent.Type() != o.Entity) {
					continue
				}
				forward := args
				if t.isMeta() && o.MetaKey != "" {
					if len(args) < 2 {
						continue
					}
					if k, _ := args[1].(string); k != o.MetaKey {
						continue
					}
					forward = make([]any, 0, len(args)-1)
					forward = append(forward, args[0])
					forward = append(forward, args[2:]...)
				}
				b.call(bd, forward)
			}
		})
	}
	metrics.EventSubscriptions.WithLabelValues(string(key)).Add(float64(len(order)))
	return nil
}

// loadColShape installs one subscription per colshape type. The listener
// receives (shape, entity) and checks shape type, name and entity type in
// that order.
func (b *Base) loadColShape(_ context.Context, key annotation.Key, group []Descriptor) error {
	byType, order := b.bindByType(group)
	for _, t := range order {
		bindings := byType[t]
		b.rt.On(string(t), func(args ...any) {
			if len(args) == 0 {
				return
			}
			shape, ok := args[0].(*host.ColShape)
			if !ok {
				return
			}
			var ent host.Entity
			if len(args) > 1 {
				ent, _ = args[1].(host.Entity)
			}
			for _, bd := range bindings {
				o := bd.desc.Options
				if shape.ShapeType() != o.ColShapeType {
					continue
				}
				if o.Name != "" && shape.Name() != o.Name {
					continue
				}
				if len(o.Entities) > 0 && (ent == nil || !slices.Contains(o.Entities, ent.Type())) {
					continue
				}
				b.call(bd, args)
			}
		})
	}
	metrics.EventSubscriptions.WithLabelValues(string(key)).Add(float64(len(order)))
	return nil
}

// loadCommands files descriptors into the command table and installs the
// single consoleCommand subscription.
func (b *Base) loadCommands(_ context.Context, key annotation.Key, group []Descriptor) error {
	added := 0
	for _, d := range dedupe(group) {
		bd, ok := b.bind(d)
		if !ok {
			continue
		}
		b.commands.Add(d.EventName, func(args []string) {
			forward := make([]any, len(args))
			for i, a := range args {
				forward[i] = a
			}
			b.call(bd, forward)
		})
		added++
	}
	if added == 0 {
		return nil
	}
	b.rt.On(host.EventConsoleCommand, b.commands.listener)
	metrics.EventSubscriptions.WithLabelValues(string(key)).Inc()
	return nil
}

func (b *Base) bindByType(group []Descriptor) (map[Type][]binding, []Type) {
	byType := make(map[Type][]binding)
	var order []Type
	for _, d := range dedupe(group) {
		bd, ok := b.bind(d)
		if !ok {
			continue
		}
		if _, seen := byType[d.Type]; !seen {
			order = append(order, d.Type)
		}
		byType[d.Type] = append(byType[d.Type], bd)
	}
	return byType, order
}

// ================= dispatch =================

// bind resolves every instance of the descriptor's target. Wiring problems
// skip the descriptor.
func (b *Base) bind(d Descriptor) (binding, bool) {
	fields := []zap.Field{
		zap.String("type", string(d.Type)),
		zap.String("event", d.EventName),
		zap.String("target", d.TargetName),
		zap.String("method", d.Method),
	}
	if d.Invoke == nil {
		b.logger.Warn("event handler method missing", fields...)
		return binding{}, false
	}
	instances, err := b.resolver.ResolveAll(d.TargetName)
	if err != nil {
		b.logger.Warn("event target unresolved", append(fields, zap.Error(err))...)
		return binding{}, false
	}
	if len(instances) == 0 {
		b.logger.Warn("event target has no instances", fields...)
		return binding{}, false
	}
	return binding{desc: d, instances: instances}, true
}

func (b *Base) call(bd binding, args []any) {
	for _, inst := range bd.instances {
		b.invoke(bd.desc, inst, args)
	}
}

func (b *Base) invoke(d Descriptor, inst any, args []any) {
	metrics.EventsDispatchedTotal.WithLabelValues(string(d.Type)).Inc()
	if !b.opts.PropagatePanics {
		defer func() {
			if r := recover(); r != nil {
				metrics.HandlerPanicsTotal.WithLabelValues(string(d.Type)).Inc()
				b.logger.Error("event handler panic",
					zap.String("event", d.EventName),
					zap.String("target", d.TargetName),
					zap.String("method", d.Method),
					zap.Any("panic", r),
				)
			}
		}()
	}
	if err := d.Invoke(inst, args...); err != nil {
		b.logger.Warn("event handler failed",
			zap.String("event", d.EventName),
			zap.String("target", d.TargetName),
			zap.String("method", d.Method),
			zap.Error(err),
		)
	}
}

// ================= idempotence =================

type identity struct {
	t       Type
	event   string
	target  string
	method  string
	entity  host.EntityType
	metaKey string
	shape   host.ColShapeType
	name    string
	key     int
}

func identityOf(d Descriptor) identity {
	return identity{
		t:       d.Type,
		event:   d.EventName,
		target:  d.TargetName,
		method:  d.Method,
		entity:  d.Options.Entity,
		metaKey: d.Options.MetaKey,
		shape:   d.Options.ColShapeType,
		name:    d.Options.Name,
		key:     d.Options.KeyboardKey,
	}
}

// dedupe keeps the first descriptor of each identity, in declaration order.
func dedupe(group []Descriptor) []Descriptor {
	seen := make(map[identity]struct{}, len(group))
	out := make([]Descriptor, 0, len(group))
	for _, d := range group {
		id := identityOf(d)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d)
	}
	return out
}
