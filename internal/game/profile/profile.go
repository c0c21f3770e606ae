package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"game-framework/internal/db"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "gamefw:"

type Profile struct {
	PlayerID        uint32    `json:"player_id"`
	TraceID         string    `json:"trace_id,omitempty"`
	Health          float64   `json:"health"`
	Deaths          int       `json:"deaths"`
	SafeZoneEntries int       `json:"safe_zone_entries"`
	JoinedAt        time.Time `json:"joined_at"`
}

// ======================
// Factory
// ======================
func New(playerID uint32, traceID string) Profile {
	return Profile{
		PlayerID: playerID,
		TraceID:  traceID,
		Health:   100,
		JoinedAt: time.Now(),
	}
}

type Store interface {
	Load(ctx context.Context, playerID uint32) (*Profile, bool, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, playerID uint32) error
}

// =======================
// Redis
// =======================

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore keeps profiles as JSON strings. A zero ttl keeps them forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, playerID uint32) (*Profile, bool, error) {
	if playerID == 0 {
		return nil, false, nil
	}
	val, err := s.client.Get(ctx, db.ProfileKey(s.prefix, playerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false, fmt.Errorf("decode profile: %w", err)
	}
	return &p, true, nil
}

func (s *RedisStore) Save(ctx context.Context, p *Profile) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.client.Set(ctx, db.ProfileKey(s.prefix, p.PlayerID), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, playerID uint32) error {
	return s.client.Del(ctx, db.ProfileKey(s.prefix, playerID)).Err()
}

// =======================
// Memory
// =======================

type MemoryStore struct {
	mu       sync.Mutex
	profiles map[uint32]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[uint32]Profile)}
}

func (s *MemoryStore) Load(_ context.Context, playerID uint32) (*Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[playerID]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (s *MemoryStore) Save(_ context.Context, p *Profile) error {
	if p == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.PlayerID] = *p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, playerID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, playerID)
	return nil
}
