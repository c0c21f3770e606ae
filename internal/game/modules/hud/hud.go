// Package hud is the client side of the sample game: it shows chat, reports
// movement keys to the server and answers the ready check.
package hud

import (
	"context"
	"strings"
	"sync"

	"game-framework/internal/app"
	"game-framework/internal/event"
	"game-framework/internal/game/modules/chat"
	"game-framework/internal/game/modules/players"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"

	"go.uber.org/zap"
)

// Virtual key codes.
const (
	KeyW = 87
	KeyA = 65
	KeyS = 83
	KeyD = 68
)

const MaxLines = 20

// Server is the part of the client event service the HUD uses.
type Server interface {
	EmitServer(channel string, args ...any)
	LocalPlayer() host.Entity
}

type Line struct {
	From uint32
	Text string
}

type HUD struct {
	server Server
	logger *zap.Logger

	mu       sync.Mutex
	lines    []Line
	health   float64
	dead     bool
	zone     string
	round    bool
	acked    bool
	pressed  map[string]bool
	playerID uint32
}

func NewHUD(server Server, logger *zap.Logger) *HUD {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HUD{server: server, logger: logger, pressed: make(map[string]bool)}
}

// Init runs once the session is assigned.
func (h *HUD) Init(context.Context) error {
	if p := h.server.LocalPlayer(); p != nil {
		h.mu.Lock()
		h.playerID = p.ID()
		h.mu.Unlock()
	}
	return nil
}

// Ready sends the ready check once listeners are live.
func (h *HUD) Ready(context.Context) error {
	h.server.EmitServer(players.ChannelReady)
	return nil
}

// ================= server events =================

// OnChatMessage receives (sender id, text).
func (h *HUD) OnChatMessage(args ...any) {
	if len(args) < 2 {
		return
	}
	from, _ := args[0].(float64)
	text, _ := args[1].(string)
	h.mu.Lock()
	if len(h.lines) == MaxLines {
		h.lines = append(h.lines[:0], h.lines[1:]...)
	}
	h.lines = append(h.lines, Line{From: uint32(from), Text: text})
	h.mu.Unlock()
}

// OnWelcome receives (player id, health).
func (h *HUD) OnWelcome(args ...any) {
	if len(args) < 2 {
		return
	}
	id, _ := args[0].(float64)
	health, _ := args[1].(float64)
	h.mu.Lock()
	h.playerID = uint32(id)
	h.health = health
	h.mu.Unlock()
	h.logger.Info("welcome", zap.Uint32("player", uint32(id)), zap.Float64("health", health))
}

// OnReadyAck receives (health).
func (h *HUD) OnReadyAck(args ...any) {
	h.mu.Lock()
	h.acked = true
	if len(args) > 0 {
		if health, ok := args[0].(float64); ok {
			h.health = health
		}
	}
	h.mu.Unlock()
}

func (h *HUD) OnDied(...any) {
	h.mu.Lock()
	h.dead = true
	h.health = 0
	h.mu.Unlock()
}

func (h *HUD) OnZoneEnter(args ...any) {
	name := ""
	if len(args) > 0 {
		name, _ = args[0].(string)
	}
	h.mu.Lock()
	h.zone = name
	h.mu.Unlock()
}

func (h *HUD) OnZoneLeave(...any) {
	h.mu.Lock()
	h.zone = ""
	h.mu.Unlock()
}

// OnRoundStart fires for the first round only.
func (h *HUD) OnRoundStart(...any) {
	h.mu.Lock()
	h.round = true
	h.mu.Unlock()
}

// ================= keys =================

func (h *HUD) ForwardDown(player host.Entity) { h.move(player, "forward", true) }
func (h *HUD) ForwardUp(player host.Entity)   { h.move(player, "forward", false) }
func (h *HUD) LeftDown(player host.Entity)    { h.move(player, "left", true) }
func (h *HUD) LeftUp(player host.Entity)      { h.move(player, "left", false) }

func (h *HUD) move(player host.Entity, dir string, pressed bool) {
	if player == nil {
		return
	}
	h.mu.Lock()
	changed := h.pressed[dir] != pressed
	h.pressed[dir] = pressed
	h.mu.Unlock()
	if changed {
		h.server.EmitServer(players.ChannelMove, dir, pressed)
	}
}

// ================= commands =================

// Chat handles "chat <text...>".
func (h *HUD) Chat(args []string) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return
	}
	h.server.EmitServer(chat.ChannelSend, text)
}

// ================= state =================

func (h *HUD) Lines() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Line(nil), h.lines...)
}

type State struct {
	PlayerID uint32
	Health   float64
	Dead     bool
	Zone     string
	Acked    bool
	Round    bool
}

func (h *HUD) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return State{
		PlayerID: h.playerID,
		Health:   h.health,
		Dead:     h.dead,
		Zone:     h.zone,
		Acked:    h.acked,
		Round:    h.round,
	}
}

// ================= module =================

type module struct{}

func New() app.Module { return &module{} }

func (m *module) Name() string { return "hud" }

func (m *module) Register(reg *app.Registrar) error {
	if reg.Side() != app.SideClient {
		return nil
	}
	logger := reg.Logger()
	core := reg.Core()
	token, err := reg.Provide("HUD", func(r registry.Resolver) (any, error) {
		events, err := registry.Resolve[*event.ClientService](r, core.Events)
		if err != nil {
			return nil, err
		}
		return NewHUD(events, logger), nil
	})
	if err != nil {
		return err
	}

	loader.On(reg.Store(), loader.Init, token, "Init", (*HUD).Init)
	loader.On(reg.Store(), loader.Last, token, "Ready", (*HUD).Ready)

	reg.Events(token).
		OnServer(chat.ChannelMessage, "OnChatMessage", event.Bind((*HUD).OnChatMessage)).
		OnServer(players.ChannelWelcome, "OnWelcome", event.Bind((*HUD).OnWelcome)).
		OnServer(players.ChannelReadyAck, "OnReadyAck", event.Bind((*HUD).OnReadyAck)).
		OnServer(players.ChannelDied, "OnDied", event.Bind((*HUD).OnDied)).
		OnServer(players.ChannelZoneEnter, "OnZoneEnter", event.Bind((*HUD).OnZoneEnter)).
		OnServer(players.ChannelZoneLeave, "OnZoneLeave", event.Bind((*HUD).OnZoneLeave)).
		OnceServer(players.ChannelRound, "OnRoundStart", event.Bind((*HUD).OnRoundStart)).
		KeyDown(KeyW, "ForwardDown", event.BindKey((*HUD).ForwardDown)).
		KeyUp(KeyW, "ForwardUp", event.BindKey((*HUD).ForwardUp)).
		KeyDown(KeyA, "LeftDown", event.BindKey((*HUD).LeftDown)).
		KeyUp(KeyA, "LeftUp", event.BindKey((*HUD).LeftUp)).
		ConsoleCommand("chat", "Chat", event.BindCommand((*HUD).Chat))
	return nil
}
