// Package players tracks connected players: their profile, health, the safe
// zone and the ready check that precedes a round.
package players

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"game-framework/internal/app"
	"game-framework/internal/event"
	"game-framework/internal/game/profile"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ChannelWelcome   = "player:welcome"
	ChannelReady     = "player:ready"
	ChannelReadyAck  = "player:readyAck"
	ChannelMove      = "player:move"
	ChannelDied      = "player:died"
	ChannelZoneEnter = "zone:enter"
	ChannelZoneLeave = "zone:leave"
	ChannelRound     = "round:start"

	MetaHealth    = "health"
	SafeZoneName  = "safezone"
	MaxHealth     = 100.0
	safeZoneShape = host.ColShapeCircle
	safeZoneID    = 1 << 24
)

// Runtime is the part of the host runtime the module drives.
type Runtime interface {
	NextTick(fn func()) host.Timer
	SetSyncedMeta(e host.MetaHolder, key string, value any)
	EnterColShape(shape *host.ColShape, e host.Entity)
	LeaveColShape(shape *host.ColShape, e host.Entity)
}

// Clients is the part of the server event service the module uses.
type Clients interface {
	EmitClient(player host.Entity, channel string, args ...any) error
	EmitAllClients(channel string, args ...any)
	OffClient(channel string, handles ...host.Handle)
}

type session struct {
	entity     host.MetaHolder
	profile    profile.Profile
	loaded     bool
	healthSet  bool
	ready      bool
	inSafeZone bool
	moving     map[string]bool
}

type Players struct {
	rt      Runtime
	clients Clients
	store   profile.Store
	logger  *zap.Logger

	mu        sync.Mutex
	online    map[uint32]*session
	inflight  map[uint32]chan struct{}
	safeZone  *host.ColShape
	roundOpen bool

	storeOps sync.WaitGroup
}

func NewPlayers(rt Runtime, clients Clients, store profile.Store, logger *zap.Logger) *Players {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = profile.NewMemoryStore()
	}
	return &Players{
		rt:       rt,
		clients:  clients,
		store:    store,
		logger:   logger,
		online:   make(map[uint32]*session),
		inflight: make(map[uint32]chan struct{}),
	}
}

// ================= lifecycle =================

func (p *Players) LoadZones(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.safeZone = host.NewColShape(safeZoneID, safeZoneShape, SafeZoneName)
	p.roundOpen = true
	return nil
}

func (p *Players) Announce(context.Context) error {
	p.logger.Info("players ready", zap.String("safe_zone", SafeZoneName), zap.Int("online", p.Online()))
	return nil
}

// ================= events =================

// OnConnect tracks the player right away and loads the stored profile off
// the runtime loop. The welcome is sent once the profile is in.
func (p *Players) OnConnect(args ...any) {
	ent, ok := metaHolder(args)
	if !ok {
		return
	}
	id := ent.ID()
	sess := &session{entity: ent, profile: profile.New(id, traceID(ent)), moving: make(map[string]bool)}
	p.mu.Lock()
	p.online[id] = sess
	p.mu.Unlock()

	p.storeAsync(id, func(ctx context.Context) {
		prof, found, err := p.store.Load(ctx, id)
		if err != nil {
			p.logger.Warn("profile load failed", zap.Uint32("player", id), zap.Error(err))
		}
		if !found || prof == nil {
			fresh := profile.New(id, traceID(ent))
			prof = &fresh
			if err := p.store.Save(ctx, prof); err != nil {
				p.logger.Warn("profile save failed", zap.Uint32("player", id), zap.Error(err))
			}
		}
		p.rt.NextTick(func() { p.applyProfile(sess, *prof) })
	})
}

// applyProfile merges a loaded profile into sess. Counters gathered while
// loading are added on top; a health change seen meanwhile wins.
func (p *Players) applyProfile(sess *session, stored profile.Profile) {
	id := sess.entity.ID()
	p.mu.Lock()
	if p.online[id] != sess {
		p.mu.Unlock()
		return
	}
	stored.Deaths += sess.profile.Deaths
	stored.SafeZoneEntries += sess.profile.SafeZoneEntries
	if sess.healthSet {
		stored.Health = sess.profile.Health
	}
	stored.PlayerID = id
	sess.profile = stored
	sess.loaded = true
	health := stored.Health
	p.mu.Unlock()

	p.emit(sess.entity, ChannelWelcome, stored.PlayerID, health)
}

func (p *Players) OnDisconnect(args ...any) {
	ent, ok := metaHolder(args)
	if !ok {
		return
	}
	id := ent.ID()
	p.mu.Lock()
	s := p.online[id]
	delete(p.online, id)
	var snapshot profile.Profile
	loaded := s != nil && s.loaded
	if loaded {
		snapshot = s.profile
	}
	p.mu.Unlock()
	if !loaded {
		// Saving the placeholder would overwrite the stored profile.
		return
	}
	p.storeAsync(id, func(ctx context.Context) {
		if err := p.store.Save(ctx, &snapshot); err != nil {
			p.logger.Warn("profile save failed", zap.Uint32("player", id), zap.Error(err))
		}
	})
}

// OnPlayerCreated gives every new player full health.
func (p *Players) OnPlayerCreated(args ...any) {
	ent, ok := metaHolder(args)
	if !ok {
		return
	}
	p.rt.SetSyncedMeta(ent, MetaHealth, MaxHealth)
}

// OnHealthChange receives (player, value, oldValue) for the health key only.
func (p *Players) OnHealthChange(args ...any) {
	ent, ok := metaHolder(args)
	if !ok || len(args) < 2 {
		return
	}
	value, _ := toFloat(args[1])
	var old float64
	if len(args) > 2 {
		old, _ = toFloat(args[2])
	}

	p.mu.Lock()
	s := p.online[ent.ID()]
	died := false
	if s != nil {
		s.profile.Health = value
		s.healthSet = true
		if value <= 0 && old > 0 {
			s.profile.Deaths++
			died = true
		}
	}
	p.mu.Unlock()

	if died {
		p.emit(ent, ChannelDied)
	}
}

// OnMetaChange receives (entity, key, value, oldValue) for every key.
func (p *Players) OnMetaChange(args ...any) {
	if len(args) < 3 {
		return
	}
	ent, _ := args[0].(host.Entity)
	key, _ := args[1].(string)
	if ent == nil {
		return
	}
	p.logger.Debug("synced meta changed", zap.Uint32("player", ent.ID()), zap.String("key", key), zap.Any("value", args[2]))
}

// OnEnterSafeZone receives (shape, entity).
func (p *Players) OnEnterSafeZone(args ...any) {
	p.zone(args, true)
}

func (p *Players) OnLeaveSafeZone(args ...any) {
	p.zone(args, false)
}

func (p *Players) zone(args []any, inside bool) {
	if len(args) < 2 {
		return
	}
	shape, _ := args[0].(*host.ColShape)
	ent, _ := args[1].(host.Entity)
	if shape == nil || ent == nil {
		return
	}
	p.mu.Lock()
	s := p.online[ent.ID()]
	if s != nil {
		if inside && !s.inSafeZone {
			s.profile.SafeZoneEntries++
		}
		s.inSafeZone = inside
	}
	p.mu.Unlock()
	if s == nil {
		return
	}
	if inside {
		p.emit(ent, ChannelZoneEnter, shape.Name())
	} else {
		p.emit(ent, ChannelZoneLeave, shape.Name())
	}
}

// OnReady marks the sending player ready for the next round and answers with
// the player's health. The handler is detached when the round starts.
func (p *Players) OnReady(args ...any) {
	ent, ok := args0Entity(args)
	if !ok {
		return
	}
	p.mu.Lock()
	s := p.online[ent.ID()]
	var health float64
	if s != nil {
		s.ready = true
		health = s.profile.Health
	}
	p.mu.Unlock()
	if s != nil {
		p.emit(ent, ChannelReadyAck, health)
	}
}

// OnMove receives (player, direction, pressed).
func (p *Players) OnMove(args ...any) {
	ent, ok := args0Entity(args)
	if !ok || len(args) < 3 {
		return
	}
	dir, _ := args[1].(string)
	pressed, _ := args[2].(bool)
	p.mu.Lock()
	if s := p.online[ent.ID()]; s != nil {
		s.moving[dir] = pressed
	}
	p.mu.Unlock()
}

// ================= commands =================

// StartRound closes the ready check and tells every client how many players
// were ready.
func (p *Players) StartRound([]string) {
	p.mu.Lock()
	if !p.roundOpen {
		p.mu.Unlock()
		p.logger.Info("round already started")
		return
	}
	p.roundOpen = false
	ready := 0
	for _, s := range p.online {
		if s.ready {
			ready++
		}
	}
	p.mu.Unlock()

	p.clients.OffClient(ChannelReady)
	p.clients.EmitAllClients(ChannelRound, ready)
	p.logger.Info("round started", zap.Int("ready", ready))
}

// Damage handles "damage <player> <amount>".
func (p *Players) Damage(args []string) {
	ent, amount, err := p.target(args)
	if err != nil {
		p.logger.Warn("damage", zap.Error(err))
		return
	}
	p.mu.Lock()
	var health float64
	if s := p.online[ent.ID()]; s != nil {
		health = s.profile.Health
	}
	p.mu.Unlock()
	if m, ok := ent.(interface{ SyncedMeta(string) (any, bool) }); ok {
		if v, ok := m.SyncedMeta(MetaHealth); ok {
			health, _ = toFloat(v)
		}
	}
	health -= amount
	if health < 0 {
		health = 0
	}
	p.rt.SetSyncedMeta(ent, MetaHealth, health)
}

// Zone handles "zone <player> enter|leave".
func (p *Players) Zone(args []string) {
	if len(args) < 2 {
		p.logger.Warn("usage: zone <player> enter|leave")
		return
	}
	ent, _, err := p.target(args[:1])
	if err != nil {
		p.logger.Warn("zone", zap.Error(err))
		return
	}
	p.mu.Lock()
	shape := p.safeZone
	p.mu.Unlock()
	if shape == nil {
		return
	}
	switch args[1] {
	case "enter":
		p.rt.EnterColShape(shape, ent)
	case "leave":
		p.rt.LeaveColShape(shape, ent)
	}
}

func (p *Players) List([]string) {
	for _, pr := range p.Profiles() {
		p.logger.Info("player",
			zap.Uint32("id", pr.PlayerID),
			zap.Float64("health", pr.Health),
			zap.Int("deaths", pr.Deaths),
			zap.Int("safe_zone_entries", pr.SafeZoneEntries),
		)
	}
}

// ================= queries =================

func (p *Players) Online() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}

// Profiles returns the profiles of online players ordered by id.
func (p *Players) Profiles() []profile.Profile {
	p.mu.Lock()
	out := make([]profile.Profile, 0, len(p.online))
	for _, s := range p.online {
		out = append(out, s.profile)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

func (p *Players) Ready(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.online[id]
	return s != nil && s.ready
}

func (p *Players) Moving(id uint32, dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.online[id]
	return s != nil && s.moving[dir]
}

func (p *Players) SafeZone() *host.ColShape {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safeZone
}

// ================= helpers =================

func (p *Players) target(args []string) (host.MetaHolder, float64, error) {
	if len(args) == 0 {
		return nil, 0, errors.New("missing player id")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("bad player id %q: %w", args[0], err)
	}
	var amount float64
	if len(args) > 1 {
		if amount, err = strconv.ParseFloat(args[1], 64); err != nil {
			return nil, 0, fmt.Errorf("bad amount %q: %w", args[1], err)
		}
	}
	p.mu.Lock()
	var ent host.MetaHolder
	if s := p.online[uint32(id)]; s != nil {
		ent = s.entity
	}
	p.mu.Unlock()
	if ent == nil {
		return nil, 0, fmt.Errorf("player %d not online", id)
	}
	return ent, amount, nil
}

// storeAsync runs op on its own goroutine. Ops for the same player run in
// call order, so a save on disconnect lands before the next load.
func (p *Players) storeAsync(id uint32, op func(ctx context.Context)) {
	done := make(chan struct{})
	p.mu.Lock()
	prev := p.inflight[id]
	p.inflight[id] = done
	p.mu.Unlock()

	p.storeOps.Add(1)
	go func() {
		defer p.storeOps.Done()
		defer func() {
			p.mu.Lock()
			if p.inflight[id] == done {
				delete(p.inflight, id)
			}
			p.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}
		ctx, cancel := storeContext()
		defer cancel()
		op(ctx)
	}()
}

// WaitStore blocks until every pending profile load and save has finished.
func (p *Players) WaitStore() {
	p.storeOps.Wait()
}

func (p *Players) emit(player host.Entity, channel string, args ...any) {
	if err := p.clients.EmitClient(player, channel, args...); err != nil {
		p.logger.Debug("emit to player failed", zap.String("channel", channel), zap.Error(err))
	}
}

func args0Entity(args []any) (host.Entity, bool) {
	if len(args) == 0 {
		return nil, false
	}
	e, ok := args[0].(host.Entity)
	return e, ok && e != nil
}

func metaHolder(args []any) (host.MetaHolder, bool) {
	if len(args) == 0 {
		return nil, false
	}
	e, ok := args[0].(host.MetaHolder)
	return e, ok && e != nil
}

func traceID(e host.Entity) string {
	if t, ok := e.(interface{ TraceID() string }); ok {
		return t.TraceID()
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// ================= module =================

// ProfileTTL bounds how long a profile outlives its player's session.
const ProfileTTL = 24 * time.Hour

type module struct{}

func New() app.Module { return &module{} }

func (m *module) Name() string { return "players" }

func (m *module) Register(reg *app.Registrar) error {
	if reg.Side() != app.SideServer {
		return nil
	}
	logger := reg.Logger()
	core := reg.Core()
	token, err := reg.Provide("Players", func(r registry.Resolver) (any, error) {
		rt, err := registry.Resolve[*host.Local](r, core.Runtime)
		if err != nil {
			return nil, err
		}
		events, err := registry.Resolve[*event.ServerService](r, core.Events)
		if err != nil {
			return nil, err
		}
		var store profile.Store = profile.NewMemoryStore()
		if core.Redis != nil {
			client, err := registry.Resolve[*redis.Client](r, core.Redis)
			if err != nil {
				return nil, err
			}
			store = profile.NewRedisStore(client, profile.DefaultPrefix, ProfileTTL)
		}
		return NewPlayers(rt, events, store, logger), nil
	})
	if err != nil {
		return err
	}

	store := reg.Store()
	loader.On(store, loader.Before, token, "LoadZones", (*Players).LoadZones)
	loader.On(store, loader.Last, token, "Announce", (*Players).Announce)

	reg.Events(token).
		On(host.EventPlayerConnect, "OnConnect", event.Bind((*Players).OnConnect)).
		On(host.EventPlayerDisconnect, "OnDisconnect", event.Bind((*Players).OnDisconnect)).
		GameEntityCreate("OnPlayerCreated", host.EntityPlayer, event.Bind((*Players).OnPlayerCreated)).
		SyncedMetaChange("OnHealthChange", host.EntityPlayer, event.Bind((*Players).OnHealthChange), event.WithMetaKey(MetaHealth)).
		SyncedMetaChange("OnMetaChange", host.EntityPlayer, event.Bind((*Players).OnMetaChange)).
		EntityEnterColShape("OnEnterSafeZone", safeZoneShape, event.Bind((*Players).OnEnterSafeZone),
			event.WithName(SafeZoneName), event.WithEntities(host.EntityPlayer)).
		EntityLeaveColShape("OnLeaveSafeZone", safeZoneShape, event.Bind((*Players).OnLeaveSafeZone),
			event.WithName(SafeZoneName), event.WithEntities(host.EntityPlayer)).
		OffOnClient(ChannelReady, "OnReady", event.Bind((*Players).OnReady)).
		OnClient(ChannelMove, "OnMove", event.Bind((*Players).OnMove)).
		ConsoleCommand("startround", "StartRound", event.BindCommand((*Players).StartRound)).
		ConsoleCommand("damage", "Damage", event.BindCommand((*Players).Damage)).
		ConsoleCommand("zone", "Zone", event.BindCommand((*Players).Zone)).
		ConsoleCommand("players", "List", event.BindCommand((*Players).List))
	return nil
}
