package event

import (
	"game-framework/internal/annotation"
	"game-framework/internal/host"
)

type Option func(*Descriptor)

// WithName restricts a colshape handler to shapes with this name.
func WithName(name string) Option {
	return func(d *Descriptor) { d.Options.Name = name }
}

// WithMetaKey restricts a meta change handler to one key. The handler then
// receives (entity, value, oldValue).
func WithMetaKey(key string) Option {
	return func(d *Descriptor) { d.Options.MetaKey = key }
}

// WithEntities restricts a colshape handler to the listed entity types.
func WithEntities(types ...host.EntityType) Option {
	return func(d *Descriptor) { d.Options.Entities = append([]host.EntityType(nil), types...) }
}

// Resetable tracks the subscription so Off(channel) can detach it.
func Resetable() Option {
	return func(d *Descriptor) { d.Resetable = true }
}

// Registrar records event descriptors for one component. Nothing is
// subscribed until the service starts its listeners.
type Registrar struct {
	store  *annotation.Store
	target string
}

func For(store *annotation.Store, target string) *Registrar {
	return &Registrar{store: store, target: target}
}

func (r *Registrar) add(t Type, event, method string, fn Invoker, opts []Option) *Registrar {
	d := Descriptor{
		Type:       t,
		EventName:  event,
		TargetName: r.target,
		Method:     method,
		Invoke:     fn,
	}
	for _, opt := range opts {
		opt(&d)
	}
	group, _ := t.Group()
	annotation.Append(r.store, group, storeTarget, d)
	return r
}

func (r *Registrar) On(event, method string, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeOn, event, method, fn, opts)
}

func (r *Registrar) Once(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOnce, event, method, fn, nil)
}

func (r *Registrar) OnServer(event, method string, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeOnServer, event, method, fn, opts)
}

func (r *Registrar) OnceServer(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOnceServer, event, method, fn, nil)
}

func (r *Registrar) OnClient(event, method string, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeOnClient, event, method, fn, opts)
}

func (r *Registrar) OnceClient(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOnceClient, event, method, fn, nil)
}

// OffOn subscribes on the local bus and tracks the subscription for Off.
func (r *Registrar) OffOn(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOffOn, event, method, fn, []Option{Resetable()})
}

func (r *Registrar) OffOnServer(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOffOnServer, event, method, fn, []Option{Resetable()})
}

func (r *Registrar) OffOnClient(event, method string, fn Invoker) *Registrar {
	return r.add(TypeOffOnClient, event, method, fn, []Option{Resetable()})
}

// GameEntityCreate fires for entities of the given type; zero matches any.
func (r *Registrar) GameEntityCreate(method string, entity host.EntityType, fn Invoker) *Registrar {
	return r.add(TypeGameEntityCreate, host.EventGameEntityCreate, method, fn, []Option{withEntity(entity)})
}

func (r *Registrar) GameEntityDestroy(method string, entity host.EntityType, fn Invoker) *Registrar {
	return r.add(TypeGameEntityDestroy, host.EventGameEntityDestroy, method, fn, []Option{withEntity(entity)})
}

func (r *Registrar) SyncedMetaChange(method string, entity host.EntityType, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeSyncedMetaChange, host.EventSyncedMetaChange, method, fn, append([]Option{withEntity(entity)}, opts...))
}

func (r *Registrar) StreamSyncedMetaChange(method string, entity host.EntityType, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeStreamSyncedMetaChange, host.EventStreamSyncedMetaChange, method, fn, append([]Option{withEntity(entity)}, opts...))
}

func (r *Registrar) EntityEnterColShape(method string, shape host.ColShapeType, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeEntityEnterColShape, host.EventEntityEnterColShape, method, fn, append([]Option{withShape(shape)}, opts...))
}

func (r *Registrar) EntityLeaveColShape(method string, shape host.ColShapeType, fn Invoker, opts ...Option) *Registrar {
	return r.add(TypeEntityLeaveColShape, host.EventEntityLeaveColShape, method, fn, append([]Option{withShape(shape)}, opts...))
}

// ConsoleCommand registers a handler for a console command name, without prefix.
func (r *Registrar) ConsoleCommand(name, method string, fn Invoker) *Registrar {
	return r.add(TypeConsoleCommand, name, method, fn, nil)
}

func (r *Registrar) KeyUp(key int, method string, fn Invoker) *Registrar {
	return r.add(TypeKeyUp, host.EventKeyUp, method, fn, []Option{withKey(key)})
}

func (r *Registrar) KeyDown(key int, method string, fn Invoker) *Registrar {
	return r.add(TypeKeyDown, host.EventKeyDown, method, fn, []Option{withKey(key)})
}

func withEntity(t host.EntityType) Option {
	return func(d *Descriptor) { d.Options.Entity = t }
}

func withShape(s host.ColShapeType) Option {
	return func(d *Descriptor) { d.Options.ColShapeType = s }
}

func withKey(k int) Option {
	return func(d *Descriptor) { d.Options.KeyboardKey = k }
}
