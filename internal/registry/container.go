// Package registry resolves tokens to lazily constructed singleton instances.
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	ErrDuplicateToken = errors.New("token already registered")
	ErrUnknownToken   = errors.New("token not registered")
	ErrCycle          = errors.New("dependency cycle")
	ErrTypeMismatch   = errors.New("instance type mismatch")
	ErrNilFactory     = errors.New("factory is nil")
)

var tokenSeq atomic.Uint64

// Token is a registration handle. Several tokens may share a name; identity is
// the pointer.
type Token struct {
	name string
	id   uint64
}

func NewToken(name string) *Token {
	return &Token{name: name, id: tokenSeq.Add(1)}
}

func (t *Token) Name() string { return t.name }

func (t *Token) String() string {
	return t.name + "#" + strconv.FormatUint(t.id, 10)
}

// Resolver is what factories and consumers see.
type Resolver interface {
	Resolve(token *Token) (any, error)
	ResolveAll(name string) ([]any, error)
}

type Factory func(r Resolver) (any, error)

// Value wraps an already built instance.
func Value(v any) Factory {
	return func(Resolver) (any, error) { return v, nil }
}

type entryState int

const (
	stateIdle entryState = iota
	stateResolving
	stateResolved
)

type entry struct {
	token    *Token
	factory  Factory
	state    entryState
	done     chan struct{}
	instance any
	hooks    []func(any)
}

type Container struct {
	mu      sync.Mutex
	entries map[*Token]*entry
	byName  map[string][]*Token
}

func NewContainer() *Container {
	return &Container{
		entries: make(map[*Token]*entry),
		byName:  make(map[string][]*Token),
	}
}

func (c *Container) Register(token *Token, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("register %s: %w", token, ErrNilFactory)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[token]; exists {
		return fmt.Errorf("register %s: %w", token, ErrDuplicateToken)
	}
	c.entries[token] = &entry{token: token, factory: factory}
	c.byName[token.name] = append(c.byName[token.name], token)
	return nil
}

// Tokens returns the tokens registered under name, in registration order.
func (c *Container) Tokens(name string) []*Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Token, len(c.byName[name]))
	copy(out, c.byName[name])
	return out
}

// Resolved reports whether token has been constructed.
func (c *Container) Resolved(token *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	return ok && e.state == stateResolved
}

func (c *Container) Resolve(token *Token) (any, error) {
	return c.resolve(token, nil)
}

func (c *Container) ResolveAll(name string) ([]any, error) {
	return c.resolveAll(name, nil)
}

// AfterFirstResolution runs fn once token's instance exists. If it already
// does, fn runs before AfterFirstResolution returns.
func (c *Container) AfterFirstResolution(token *Token, fn func(instance any)) error {
	c.mu.Lock()
	e, ok := c.entries[token]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("after resolution %s: %w", token, ErrUnknownToken)
	}
	if e.state == stateResolved {
		inst := e.instance
		c.mu.Unlock()
		fn(inst)
		return nil
	}
	e.hooks = append(e.hooks, fn)
	c.mu.Unlock()
	return nil
}

func (c *Container) resolveAll(name string, path []*Token) ([]any, error) {
	tokens := c.Tokens(name)
	out := make([]any, 0, len(tokens))
	for _, t := range tokens {
		inst, err := c.resolve(t, path)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (c *Container) resolve(token *Token, path []*Token) (any, error) {
	for _, p := range path {
		if p == token {
			return nil, fmt.Errorf("resolve %s: %w", token, ErrCycle)
		}
	}

	for {
		c.mu.Lock()
		e, ok := c.entries[token]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("resolve %s: %w", token, ErrUnknownToken)
		}

		switch e.state {
		case stateResolved:
			inst := e.instance
			c.mu.Unlock()
			return inst, nil

		case stateResolving:
			// another goroutine is building it
			done := e.done
			c.mu.Unlock()
			<-done
			continue
		}

		e.state = stateResolving
		e.done = make(chan struct{})
		c.mu.Unlock()

		scoped := &scope{c: c, path: append(path[:len(path):len(path)], token)}
		inst, err := e.factory(scoped)

		c.mu.Lock()
		if err != nil {
			e.state = stateIdle
			close(e.done)
			c.mu.Unlock()
			return nil, fmt.Errorf("resolve %s: %w", token, err)
		}
		e.instance = inst
		e.state = stateResolved
		hooks := e.hooks
		e.hooks = nil
		close(e.done)
		c.mu.Unlock()

		for _, h := range hooks {
			h(inst)
		}
		return inst, nil
	}
}

// scope carries the resolution chain so factories can detect cycles.
type scope struct {
	c    *Container
	path []*Token
}

func (s *scope) Resolve(token *Token) (any, error) {
	return s.c.resolve(token, s.path)
}

func (s *scope) ResolveAll(name string) ([]any, error) {
	return s.c.resolveAll(name, s.path)
}

// Resolve resolves token and asserts the instance type.
func Resolve[T any](r Resolver, token *Token) (T, error) {
	var zero T
	inst, err := r.Resolve(token)
	if err != nil {
		return zero, err
	}
	v, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %s: got %T: %w", token, inst, ErrTypeMismatch)
	}
	return v, nil
}

// ResolveAll resolves every token under name and asserts each instance type.
func ResolveAll[T any](r Resolver, name string) ([]T, error) {
	insts, err := r.ResolveAll(name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(insts))
	for _, inst := range insts {
		v, ok := inst.(T)
		if !ok {
			return nil, fmt.Errorf("resolve all %s: got %T: %w", name, inst, ErrTypeMismatch)
		}
		out = append(out, v)
	}
	return out, nil
}
