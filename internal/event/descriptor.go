package event

import (
	"errors"
	"fmt"

	"game-framework/internal/annotation"
	"game-framework/internal/host"
)

var (
	ErrUnknownType    = errors.New("unknown event type")
	ErrTypeMismatch   = errors.New("handler bound to a different instance type")
	ErrAlreadyStarted = errors.New("event listeners already started")
	ErrNoClients      = errors.New("no client emitter configured")
)

// Invoker calls the bound handler on a resolved instance.
type Invoker func(instance any, args ...any) error

// ValidateOptions narrows which events reach a descriptor. Zero values mean
// "no filter", except ColShapeType which is always compared.
type ValidateOptions struct {
	Entity       host.EntityType
	Entities     []host.EntityType
	MetaKey      string
	KeyboardKey  int
	ColShapeType host.ColShapeType
	Name         string
}

// Descriptor is one annotated event handler.
type Descriptor struct {
	Type       Type
	EventName  string
	TargetName string
	Method     string
	Options    ValidateOptions
	Resetable  bool
	Invoke     Invoker
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s) %s.%s", d.Type, d.EventName, d.TargetName, d.Method)
}

// Bind adapts fn, usually a method expression, to an Invoker.
func Bind[T any](fn func(T, ...any)) Invoker {
	if fn == nil {
		return nil
	}
	return func(instance any, args ...any) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrTypeMismatch, instance)
		}
		fn(t, args...)
		return nil
	}
}

// BindKey adapts a key handler; it receives the local player.
func BindKey[T any](fn func(T, host.Entity)) Invoker {
	if fn == nil {
		return nil
	}
	return func(instance any, args ...any) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrTypeMismatch, instance)
		}
		var player host.Entity
		if len(args) > 0 {
			player, _ = args[0].(host.Entity)
		}
		fn(t, player)
		return nil
	}
}

// BindCommand adapts a console command handler; it receives the arguments
// that followed the command name.
func BindCommand[T any](fn func(T, []string)) Invoker {
	if fn == nil {
		return nil
	}
	return func(instance any, args ...any) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrTypeMismatch, instance)
		}
		fn(t, toStrings(args))
		return nil
	}
}

func toStrings(args []any) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// Descriptors returns the group's descriptors in declaration order.
func Descriptors(store *annotation.Store, group annotation.Key) []Descriptor {
	return annotation.Get[Descriptor](store, group, storeTarget)
}

// Add files d under the group of its type.
func Add(store *annotation.Store, d Descriptor) error {
	group, ok := d.Type.Group()
	if !ok {
		return fmt.Errorf("%s: %w", d.Type, ErrUnknownType)
	}
	annotation.Append(store, group, storeTarget, d)
	return nil
}
