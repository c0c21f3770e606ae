package loader

import (
	"context"
	"fmt"
	"sort"

	"game-framework/internal/annotation"
	"game-framework/internal/registry"
)

type Phase int

const (
	Init Phase = iota
	Before
	After
	Last
)

// canonicalOrder is the fixed phase sequence; a phase's index is its rank.
var canonicalOrder = []Phase{Init, Before, After, Last}

func (p Phase) String() string {
	switch p {
	case Init:
		return "init"
	case Before:
		return "before"
	case After:
		return "after"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the four lifecycle phases.
func (p Phase) Valid() bool { return p.rank() < len(canonicalOrder) }

func (p Phase) rank() int {
	for i, ph := range canonicalOrder {
		if ph == p {
			return i
		}
	}
	return len(canonicalOrder)
}

const (
	DescriptorKey annotation.Key    = "loader:phases"
	storeTarget   annotation.Target = "loader"
)

// Hook is a lifecycle method bound to its resolved instance at run time.
type Hook func(ctx context.Context, instance any) error

// Descriptor marks one lifecycle method of one component.
type Descriptor struct {
	Phase      Phase
	TargetName string
	Target     *registry.Token
	Method     string
	Order      int
	Hook       Hook
}

type Option func(*Descriptor)

// WithOrder places the hook relative to others in the same phase (lower first).
func WithOrder(n int) Option {
	return func(d *Descriptor) { d.Order = n }
}

// Register appends d to the loader's descriptor list.
func Register(store *annotation.Store, d Descriptor) {
	if d.TargetName == "" && d.Target != nil {
		d.TargetName = d.Target.Name()
	}
	annotation.Append(store, DescriptorKey, storeTarget, d)
}

// On registers fn as the phase hook of the component behind token. fn is
// usually a method expression such as (*Chat).Setup.
func On[T any](store *annotation.Store, phase Phase, token *registry.Token, method string, fn func(T, context.Context) error, opts ...Option) {
	d := Descriptor{
		Phase:  phase,
		Target: token,
		Method: method,
	}
	if token != nil {
		d.TargetName = token.Name()
	}
	if fn != nil {
		d.Hook = func(ctx context.Context, instance any) error {
			t, ok := instance.(T)
			if !ok {
				return fmt.Errorf("%s.%s: got %T: %w", d.TargetName, method, instance, registry.ErrTypeMismatch)
			}
			return fn(t, ctx)
		}
	}
	for _, opt := range opts {
		opt(&d)
	}
	Register(store, d)
}

// Descriptors returns the registered descriptors in declaration order.
func Descriptors(store *annotation.Store) []Descriptor {
	return annotation.Get[Descriptor](store, DescriptorKey, storeTarget)
}

// Queue returns a copy of ds sorted by (phase rank, order). Equal keys keep
// declaration order.
func Queue(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Phase.rank(), out[j].Phase.rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Order < out[j].Order
	})
	return out
}
