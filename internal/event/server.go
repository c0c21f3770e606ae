package event

import (
	"fmt"

	"game-framework/internal/annotation"
	"game-framework/internal/host"
)

// ClientEmitter sends an event to one connected client.
type ClientEmitter interface {
	EmitTo(player host.Entity, channel string, args ...any) error
}

// ServerService is the server-side event service. Client events arrive on the
// runtime's remote bus with the sending player as first argument.
type ServerService struct {
	*Base
	clients ClientEmitter
}

func NewServerService(rt host.Runtime, store *annotation.Store, resolver Resolver, clients ClientEmitter, opts Options) *ServerService {
	s := &ServerService{
		Base:    newBase(rt, store, resolver, opts),
		clients: clients,
	}
	remote := subscriber{bus: busRemote, on: s.OnClient, off: rt.Remote().Off}
	s.subscribers[TypeOnClient] = remote
	s.subscribers[TypeOnceClient] = subscriber{bus: busRemote, on: s.OnceClient, off: rt.Remote().Off}
	s.subscribers[TypeOffOnClient] = remote
	return s
}

func (s *ServerService) OnClient(channel string, l host.Listener) host.Handle {
	return s.rt.Remote().On(channel, l)
}

func (s *ServerService) OnceClient(channel string, l host.Listener) host.Handle {
	return s.rt.Remote().Once(channel, l)
}

// OffClient detaches client subscriptions. With no handles it runs every
// detach closure recorded for channel.
func (s *ServerService) OffClient(channel string, handles ...host.Handle) {
	if len(handles) == 0 {
		s.runOffs(busRemote, channel)
		return
	}
	for _, h := range handles {
		s.rt.Remote().Off(channel, h)
	}
}

func (s *ServerService) EmitClient(player host.Entity, channel string, args ...any) error {
	if s.clients == nil {
		return ErrNoClients
	}
	if err := s.clients.EmitTo(player, channel, args...); err != nil {
		return fmt.Errorf("emit %s to player %d: %w", channel, player.ID(), err)
	}
	return nil
}

func (s *ServerService) EmitAllClients(channel string, args ...any) {
	s.rt.Remote().Emit(channel, args...)
}
