package hud

import (
	"context"
	"strconv"
	"testing"

	"game-framework/internal/game/modules/chat"
	"game-framework/internal/game/modules/players"
	"game-framework/internal/host"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	channel string
	args    []any
}

type fakeServer struct {
	player host.Entity
	out    []emitted
}

func (f *fakeServer) EmitServer(channel string, args ...any) {
	f.out = append(f.out, emitted{channel: channel, args: args})
}

func (f *fakeServer) LocalPlayer() host.Entity { return f.player }

func TestLifecycleHooks(t *testing.T) {
	srv := &fakeServer{player: host.NewEntity(12, host.EntityPlayer)}
	h := NewHUD(srv, nil)
	require.NoError(t, h.Init(context.Background()))
	require.NoError(t, h.Ready(context.Background()))

	assert.Equal(t, uint32(12), h.State().PlayerID)
	assert.Equal(t, []emitted{{channel: players.ChannelReady}}, srv.out)

	h.OnReadyAck(float64(80))
	assert.True(t, h.State().Acked)
	assert.Equal(t, 80.0, h.State().Health)
}

func TestMovementKeysSendChangesOnly(t *testing.T) {
	srv := &fakeServer{}
	h := NewHUD(srv, nil)
	me := host.NewEntity(1, host.EntityPlayer)

	h.ForwardDown(me)
	h.ForwardDown(me)
	h.LeftDown(me)
	h.ForwardUp(me)
	h.LeftUp(nil)

	assert.Equal(t, []emitted{
		{channel: players.ChannelMove, args: []any{"forward", true}},
		{channel: players.ChannelMove, args: []any{"left", true}},
		{channel: players.ChannelMove, args: []any{"forward", false}},
	}, srv.out)
}

func TestChat(t *testing.T) {
	srv := &fakeServer{}
	h := NewHUD(srv, nil)

	h.Chat([]string{"  "})
	h.Chat([]string{"hi", "all"})
	assert.Equal(t, []emitted{{channel: chat.ChannelSend, args: []any{"hi all"}}}, srv.out)

	for i := 0; i < MaxLines+5; i++ {
		h.OnChatMessage(float64(i), strconv.Itoa(i))
	}
	h.OnChatMessage(float64(1))
	lines := h.Lines()
	require.Len(t, lines, MaxLines)
	assert.Equal(t, Line{From: 5, Text: "5"}, lines[0])
	assert.Equal(t, Line{From: MaxLines + 4, Text: strconv.Itoa(MaxLines + 4)}, lines[MaxLines-1])
}

func TestServerEvents(t *testing.T) {
	h := NewHUD(&fakeServer{}, nil)

	h.OnWelcome(float64(3), float64(100))
	h.OnZoneEnter(players.SafeZoneName)
	assert.Equal(t, State{PlayerID: 3, Health: 100, Zone: players.SafeZoneName}, h.State())

	h.OnZoneLeave()
	h.OnDied()
	h.OnRoundStart(float64(1))
	assert.Equal(t, State{PlayerID: 3, Dead: true, Round: true}, h.State())
}
