package profile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	p := New(7, "trace")
	p.Deaths = 2
	require.NoError(t, s.Save(ctx, &p))

	got, ok, err := s.Load(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.PlayerID)
	assert.Equal(t, "trace", got.TraceID)
	assert.Equal(t, 2, got.Deaths)
	assert.Equal(t, float64(100), got.Health)

	require.NoError(t, s.Delete(ctx, 7))
	_, ok, err = s.Load(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Save(ctx, nil))
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "test:", time.Minute)
	exercise(t, s)

	p := New(3, "")
	require.NoError(t, s.Save(context.Background(), &p))
	assert.True(t, mr.Exists("test:profile:3"))
	assert.Equal(t, time.Minute, mr.TTL("test:profile:3"))

	mr.Set("test:profile:4", "{broken")
	_, _, err := s.Load(context.Background(), 4)
	assert.Error(t, err)

	_, ok, err := s.Load(context.Background(), 0)
	assert.NoError(t, err)
	assert.False(t, ok)
}
