// Package chat relays player chat to every client, and to the other nodes
// when the relay is enabled.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"game-framework/internal/app"
	"game-framework/internal/event"
	"game-framework/internal/host"
	"game-framework/internal/loader"
	"game-framework/internal/registry"
	"game-framework/internal/relay"

	"go.uber.org/zap"
)

const (
	ChannelSend    = "chat:send"
	ChannelMessage = "chat:message"
	// ChannelRelayed carries chat from other nodes.
	ChannelRelayed = "chat:relayed"

	MaxLength   = 256
	HistorySize = 50
)

var (
	ErrEmptyMessage   = errors.New("empty chat message")
	ErrMessageTooLong = errors.New("chat message too long")
)

type Message struct {
	From uint32
	Text string
}

// Broadcaster is the part of the server event service chat uses.
type Broadcaster interface {
	EmitAllClients(channel string, args ...any)
}

// Publisher is the part of the relay chat uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, args ...any) error
}

type Chat struct {
	out    Broadcaster
	relay  Publisher
	logger *zap.Logger

	mu      sync.Mutex
	history []Message
}

func NewChat(out Broadcaster, relay Publisher, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{out: out, relay: relay, logger: logger}
}

func (c *Chat) Init(context.Context) error {
	c.mu.Lock()
	c.history = make([]Message, 0, HistorySize)
	c.mu.Unlock()
	c.logger.Info("chat ready", zap.Bool("relay", c.relay != nil))
	return nil
}

// OnSend handles chat from a client: (player, text).
func (c *Chat) OnSend(args ...any) {
	if len(args) < 2 {
		return
	}
	player, ok := args[0].(host.Entity)
	if !ok {
		return
	}
	text, _ := args[1].(string)
	msg, err := c.accept(player.ID(), text)
	if err != nil {
		c.logger.Debug("chat rejected", zap.Uint32("player", player.ID()), zap.Error(err))
		return
	}
	if c.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.relay.Publish(ctx, ChannelRelayed, msg.From, msg.Text); err != nil {
			c.logger.Warn("chat relay failed", zap.Error(err))
		}
	}
}

// OnRelayed handles chat published by another node: (player id, text).
func (c *Chat) OnRelayed(args ...any) {
	if len(args) < 2 {
		return
	}
	from, _ := args[0].(float64)
	text, _ := args[1].(string)
	if _, err := c.accept(uint32(from), text); err != nil {
		c.logger.Debug("relayed chat rejected", zap.Error(err))
	}
}

// Say broadcasts a console line as the server.
func (c *Chat) Say(args []string) {
	if _, err := c.accept(0, strings.Join(args, " ")); err != nil {
		c.logger.Warn("say rejected", zap.Error(err))
	}
}

// History returns the most recent messages, oldest first.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

func (c *Chat) accept(from uint32, text string) (Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Message{}, ErrEmptyMessage
	case utf8.RuneCountInString(text) > MaxLength:
		return Message{}, ErrMessageTooLong
	}
	msg := Message{From: from, Text: text}

	c.mu.Lock()
	if len(c.history) == HistorySize {
		c.history = append(c.history[:0], c.history[1:]...)
	}
	c.history = append(c.history, msg)
	c.mu.Unlock()

	c.out.EmitAllClients(ChannelMessage, msg.From, msg.Text)
	return msg, nil
}

// ================= module =================

type module struct{}

func New() app.Module { return &module{} }

func (m *module) Name() string { return "chat" }

func (m *module) Register(reg *app.Registrar) error {
	if reg.Side() != app.SideServer {
		return nil
	}
	logger := reg.Logger()
	core := reg.Core()
	token, err := reg.Provide("Chat", func(r registry.Resolver) (any, error) {
		events, err := registry.Resolve[*event.ServerService](r, core.Events)
		if err != nil {
			return nil, err
		}
		var pub Publisher
		if core.Relay != nil {
			rl, err := registry.Resolve[*relay.Relay](r, core.Relay)
			if err != nil {
				return nil, err
			}
			pub = rl
		}
		return NewChat(events, pub, logger), nil
	})
	if err != nil {
		return err
	}

	loader.On(reg.Store(), loader.Init, token, "Init", (*Chat).Init)
	reg.Events(token).
		OnClient(ChannelSend, "OnSend", event.Bind((*Chat).OnSend)).
		On(ChannelRelayed, "OnRelayed", event.Bind((*Chat).OnRelayed)).
		ConsoleCommand("say", "Say", event.BindCommand((*Chat).Say))
	return nil
}
