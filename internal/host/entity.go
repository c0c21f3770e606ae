package host

import "sync"

type EntityType int

const (
	EntityPlayer EntityType = iota + 1
	EntityVehicle
	EntityPed
	EntityObject
	EntityColShape
)

func (t EntityType) String() string {
	switch t {
	case EntityPlayer:
		return "player"
	case EntityVehicle:
		return "vehicle"
	case EntityPed:
		return "ped"
	case EntityObject:
		return "object"
	case EntityColShape:
		return "colshape"
	default:
		return "unknown"
	}
}

type Entity interface {
	ID() uint32
	Type() EntityType
}

// MetaHolder is any entity built on BaseEntity.
type MetaHolder interface {
	Entity
	base() *BaseEntity
}

// BaseEntity is the runtime-side entity record with synced metadata.
type BaseEntity struct {
	id   uint32
	kind EntityType

	mu     sync.RWMutex
	synced map[string]any
	stream map[string]any
}

func NewEntity(id uint32, kind EntityType) *BaseEntity {
	return &BaseEntity{
		id:     id,
		kind:   kind,
		synced: make(map[string]any),
		stream: make(map[string]any),
	}
}

func (e *BaseEntity) ID() uint32       { return e.id }
func (e *BaseEntity) Type() EntityType { return e.kind }

func (e *BaseEntity) base() *BaseEntity { return e }

func (e *BaseEntity) SyncedMeta(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.synced[key]
	return v, ok
}

func (e *BaseEntity) StreamSyncedMeta(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.stream[key]
	return v, ok
}

func (e *BaseEntity) swap(m map[string]any, key string, value any) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := m[key]
	m[key] = value
	return old
}

// ColShapeType follows the host runtime's shape numbering.
type ColShapeType int

const (
	ColShapeSphere ColShapeType = iota
	ColShapeCylinder
	ColShapeCircle
	ColShapeCuboid
	ColShapeRectangle
	ColShapeCheckpoint
	ColShapePolygon
)

type ColShape struct {
	*BaseEntity
	shape ColShapeType
	name  string
}

func NewColShape(id uint32, shape ColShapeType, name string) *ColShape {
	return &ColShape{
		BaseEntity: NewEntity(id, EntityColShape),
		shape:      shape,
		name:       name,
	}
}

func (c *ColShape) ShapeType() ColShapeType { return c.shape }
func (c *ColShape) Name() string            { return c.name }
