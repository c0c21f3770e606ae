package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"game-framework/internal/transport"

	"golang.org/x/time/rate"
)

type Session struct {
	Player  *Player
	conn    transport.Conn
	limiter *rate.Limiter

	lastSeen  atomic.Int64
	closeOnce sync.Once
	reason    atomic.Value
}

func newSession(p *Player, conn transport.Conn, limiter *rate.Limiter) *Session {
	s := &Session{Player: p, conn: conn, limiter: limiter}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// close shuts the connection; the read loop then unregisters the session.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		_ = s.conn.Close()
	})
}

func (s *Session) closeReason() string {
	if r, ok := s.reason.Load().(string); ok {
		return r
	}
	return "read_error"
}

type SessionManager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint32]*Session),
	}
}

func (sm *SessionManager) Add(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.sessions[s.Player.ID()] = s
}

func (sm *SessionManager) Get(id uint32) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.sessions[id]
}

func (sm *SessionManager) Remove(id uint32) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.sessions, id)
}

func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) snapshot() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		items = append(items, s)
	}
	return items
}
