package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatService struct{ id int }

type dbService struct{}

func TestResolveIsSingleton(t *testing.T) {
	c := NewContainer()
	tok := NewToken("ChatService")
	var built atomic.Int32
	require.NoError(t, c.Register(tok, func(Resolver) (any, error) {
		built.Add(1)
		return &chatService{id: 1}, nil
	}))

	a, err := Resolve[*chatService](c, tok)
	require.NoError(t, err)
	b, err := Resolve[*chatService](c, tok)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), built.Load())
	assert.True(t, c.Resolved(tok))
}

func TestRegisterDuplicateToken(t *testing.T) {
	c := NewContainer()
	tok := NewToken("ChatService")
	require.NoError(t, c.Register(tok, Value(&chatService{})))
	err := c.Register(tok, Value(&chatService{}))
	assert.ErrorIs(t, err, ErrDuplicateToken)
	assert.ErrorIs(t, c.Register(NewToken("x"), nil), ErrNilFactory)
}

func TestSameNameDifferentIdentity(t *testing.T) {
	c := NewContainer()
	first := NewToken("Zone")
	second := NewToken("Zone")
	require.NoError(t, c.Register(first, Value(&chatService{id: 1})))
	require.NoError(t, c.Register(second, Value(&chatService{id: 2})))

	got, err := Resolve[*chatService](c, second)
	require.NoError(t, err)
	assert.Equal(t, 2, got.id)

	all, err := ResolveAll[*chatService](c, "Zone")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].id)
	assert.Equal(t, 2, all[1].id)
}

func TestResolveUnknownAndMismatch(t *testing.T) {
	c := NewContainer()
	_, err := c.Resolve(NewToken("missing"))
	assert.ErrorIs(t, err, ErrUnknownToken)

	tok := NewToken("Db")
	require.NoError(t, c.Register(tok, Value(&dbService{})))
	_, err = Resolve[*chatService](c, tok)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRecursiveResolutionAndCycle(t *testing.T) {
	c := NewContainer()
	db := NewToken("Db")
	chat := NewToken("Chat")
	require.NoError(t, c.Register(db, Value(&dbService{})))
	require.NoError(t, c.Register(chat, func(r Resolver) (any, error) {
		if _, err := Resolve[*dbService](r, db); err != nil {
			return nil, err
		}
		return &chatService{}, nil
	}))
	_, err := c.Resolve(chat)
	require.NoError(t, err)

	a := NewToken("A")
	b := NewToken("B")
	require.NoError(t, c.Register(a, func(r Resolver) (any, error) { return r.Resolve(b) }))
	require.NoError(t, c.Register(b, func(r Resolver) (any, error) { return r.Resolve(a) }))
	_, err = c.Resolve(a)
	assert.ErrorIs(t, err, ErrCycle)
	assert.False(t, c.Resolved(a))
}

func TestFactoryErrorIsNotCached(t *testing.T) {
	c := NewContainer()
	tok := NewToken("Flaky")
	calls := 0
	require.NoError(t, c.Register(tok, func(Resolver) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &dbService{}, nil
	}))
	_, err := c.Resolve(tok)
	require.Error(t, err)
	_, err = c.Resolve(tok)
	require.NoError(t, err)
}

func TestAfterFirstResolution(t *testing.T) {
	c := NewContainer()
	tok := NewToken("Root")
	require.NoError(t, c.Register(tok, Value(&chatService{id: 7})))

	var fired []any
	require.NoError(t, c.AfterFirstResolution(tok, func(inst any) { fired = append(fired, inst) }))
	assert.Empty(t, fired)

	_, err := c.Resolve(tok)
	require.NoError(t, err)
	_, err = c.Resolve(tok)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// already resolved: runs immediately
	require.NoError(t, c.AfterFirstResolution(tok, func(inst any) { fired = append(fired, inst) }))
	assert.Len(t, fired, 2)

	assert.ErrorIs(t, c.AfterFirstResolution(NewToken("nope"), func(any) {}), ErrUnknownToken)
}

func TestConcurrentResolveBuildsOnce(t *testing.T) {
	c := NewContainer()
	tok := NewToken("Shared")
	var built atomic.Int32
	require.NoError(t, c.Register(tok, func(Resolver) (any, error) {
		built.Add(1)
		return &chatService{}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve(tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), built.Load())
}
