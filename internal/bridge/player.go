package bridge

import "game-framework/internal/host"

// Player is the runtime entity behind one bridge connection.
type Player struct {
	*host.BaseEntity
	traceID string
}

func newPlayer(id uint32, traceID string) *Player {
	return &Player{
		BaseEntity: host.NewEntity(id, host.EntityPlayer),
		traceID:    traceID,
	}
}

// TraceID identifies the connection in logs.
func (p *Player) TraceID() string { return p.traceID }
