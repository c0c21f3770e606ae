package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry[int, string]()
	require.NoError(t, r.Register(87, "forward"))
	err := r.Register(87, "again")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	got, ok := r.Get(87)
	require.True(t, ok)
	assert.Equal(t, "forward", got)
	assert.Equal(t, 1, r.Len())
}

func TestUpdateAppends(t *testing.T) {
	r := NewRegistry[string, []string]()
	add := func(v string) func([]string, bool) []string {
		return func(cur []string, _ bool) []string { return append(cur, v) }
	}
	r.Update("say", add("chat"))
	r.Update("say", add("admin"))
	r.Update("kick", add("admin"))

	got, ok := r.Get("say")
	require.True(t, ok)
	assert.Equal(t, []string{"chat", "admin"}, got)
	assert.Equal(t, []string{"say", "kick"}, r.Keys())
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry[string, int]()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}
