// Package app assembles a resource: the host runtime, the component container,
// the lifecycle loader, the event service and the transports, plus whatever
// gameplay modules were registered.
package app

import (
	"errors"
	"fmt"

	"game-framework/internal/annotation"
	"game-framework/internal/event"
	"game-framework/internal/registry"

	"go.uber.org/zap"
)

// Side tells a module which half of the resource it is being registered on.
type Side int

const (
	SideServer Side = iota
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// Module is a gameplay feature. Register provides its components and declares
// their lifecycle hooks and event handlers.
type Module interface {
	Name() string
	Register(reg *Registrar) error
}

// Modules is an ordered list of module constructors.
type Modules []func() Module

// Add appends f and returns the list for chaining.
func (m Modules) Add(f func() Module) Modules {
	return append(m, f)
}

// Create instantiates every module in registration order.
func (m Modules) Create() []Module {
	ms := make([]Module, 0, len(m))
	for _, f := range m {
		ms = append(ms, f())
	}
	return ms
}

// Core holds the tokens of the framework components modules may depend on.
// Relay and Redis are nil when cross-node relaying is disabled; Bridge is nil
// on the client.
type Core struct {
	Runtime *registry.Token
	Events  *registry.Token
	Bridge  *registry.Token
	Relay   *registry.Token
	Redis   *registry.Token
}

var ErrEmptyModuleName = errors.New("module has no name")

// Registrar is handed to each module during assembly.
type Registrar struct {
	side      Side
	store     *annotation.Store
	container *registry.Container
	core      Core
	logger    *zap.Logger

	module string
	tokens []*registry.Token
}

func newRegistrar(side Side, store *annotation.Store, container *registry.Container, core Core, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{
		side:      side,
		store:     store,
		container: container,
		core:      core,
		logger:    logger,
	}
}

func (r *Registrar) Side() Side { return r.side }
func (r *Registrar) Core() Core { return r.core }
func (r *Registrar) Store() *annotation.Store { return r.store }
func (r *Registrar) Container() *registry.Container { return r.container }

// Logger returns the logger of the module currently registering.
func (r *Registrar) Logger() *zap.Logger {
	if r.module == "" {
		return r.logger
	}
	return r.logger.Named(r.module)
}

// Provide registers a component under name and includes it in the resource
// root, so it is resolved by the time bootstrap completes.
func (r *Registrar) Provide(name string, f registry.Factory) (*registry.Token, error) {
	token := registry.NewToken(name)
	if err := r.container.Register(token, f); err != nil {
		return nil, err
	}
	r.tokens = append(r.tokens, token)
	return token, nil
}

// Events starts declaring event handlers for the component behind token.
func (r *Registrar) Events(token *registry.Token) *event.Registrar {
	return event.For(r.store, token.Name())
}

// Tokens lists every component provided so far.
func (r *Registrar) Tokens() []*registry.Token {
	return append([]*registry.Token(nil), r.tokens...)
}

func (r *Registrar) register(modules []Module) error {
	for _, m := range modules {
		name := m.Name()
		if name == "" {
			return ErrEmptyModuleName
		}
		r.module = name
		err := m.Register(r)
		r.module = ""
		if err != nil {
			return fmt.Errorf("register module %s: %w", name, err)
		}
		r.logger.Debug("module registered", zap.String("module", name), zap.Stringer("side", r.side))
	}
	return nil
}

// Resource is the root component. Resolving it resolves every provided
// component.
type Resource struct {
	Side       Side
	Components []any
}

// RootName names the root component token.
const RootName = "Resource"

func (r *Registrar) provideRoot() (*registry.Token, error) {
	root := registry.NewToken(RootName)
	tokens := r.Tokens()
	err := r.container.Register(root, func(res registry.Resolver) (any, error) {
		out := &Resource{Side: r.side, Components: make([]any, 0, len(tokens))}
		for _, t := range tokens {
			v, err := res.Resolve(t)
			if err != nil {
				return nil, err
			}
			out.Components = append(out.Components, v)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}
