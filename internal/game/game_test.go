package game

import (
	"context"
	"strconv"
	"testing"
	"time"

	"game-framework/internal/app"
	"game-framework/internal/config"
	"game-framework/internal/game/modules/chat"
	"game-framework/internal/game/modules/hud"
	"game-framework/internal/game/modules/players"
	"game-framework/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 3 * time.Second
	poll        = 10 * time.Millisecond
)

func runInBackground(t *testing.T, run func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("resource did not stop")
		}
	})
}

func only[T any](t *testing.T, c *registry.Container, name string) T {
	t.Helper()
	all, err := registry.ResolveAll[T](c, name)
	require.NoError(t, err)
	require.Len(t, all, 1)
	return all[0]
}

func TestSampleGame(t *testing.T) {
	scfg := config.DefaultServerConfig()
	scfg.Bridge.ListenAddr = "127.0.0.1:0"
	scfg.Runtime.TickIntervalMs = 5
	scfg.Loader.PhaseTimeoutSec = 5
	server := app.NewServer(scfg, ServerModules(), nil)
	require.NoError(t, server.Build(context.Background()))
	addr, err := server.Listen()
	require.NoError(t, err)
	runInBackground(t, server.Run)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, server.Loader().Wait(ctx))

	ccfg := config.DefaultClientConfig()
	ccfg.ServerURL = "ws://" + addr.String() + "/ws"
	ccfg.Runtime.TickIntervalMs = 5
	ccfg.Loader.PhaseTimeoutSec = 5
	client := app.NewClient(ccfg, ClientModules(), nil)
	require.NoError(t, client.Build(context.Background()))
	runInBackground(t, client.Run)
	require.NoError(t, client.Loader().Wait(ctx))

	ps := only[*players.Players](t, server.Container(), "Players")
	ch := only[*chat.Chat](t, server.Container(), "Chat")
	h := only[*hud.HUD](t, client.Container(), "HUD")

	// Ready check runs on the client's last phase.
	require.Eventually(t, func() bool { return h.State().Acked }, waitTimeout, poll)
	id := client.Events().LocalPlayer().ID()
	assert.Equal(t, id, h.State().PlayerID)
	assert.Equal(t, 1, ps.Online())
	assert.True(t, ps.Ready(id))
	assert.Equal(t, players.MaxHealth, h.State().Health)

	crt := client.Runtime()
	crt.NextTick(func() { crt.ConsoleCommand("/chat", "hello", "there") })
	require.Eventually(t, func() bool { return len(h.Lines()) == 1 }, waitTimeout, poll)
	assert.Equal(t, hud.Line{From: id, Text: "hello there"}, h.Lines()[0])
	assert.Equal(t, []chat.Message{{From: id, Text: "hello there"}}, ch.History())

	crt.NextTick(func() { crt.KeyDown(hud.KeyW) })
	require.Eventually(t, func() bool { return ps.Moving(id, "forward") }, waitTimeout, poll)
	crt.NextTick(func() { crt.KeyUp(hud.KeyW) })
	require.Eventually(t, func() bool { return !ps.Moving(id, "forward") }, waitTimeout, poll)

	srt := server.Runtime()
	pid := strconv.FormatUint(uint64(id), 10)
	srt.NextTick(func() { srt.ConsoleCommand("zone", pid, "enter") })
	require.Eventually(t, func() bool { return h.State().Zone == players.SafeZoneName }, waitTimeout, poll)

	srt.NextTick(func() { srt.ConsoleCommand("say", "welcome") })
	require.Eventually(t, func() bool { return len(h.Lines()) == 2 }, waitTimeout, poll)
	assert.Equal(t, hud.Line{From: 0, Text: "welcome"}, h.Lines()[1])

	srt.NextTick(func() { srt.ConsoleCommand("damage", pid, "150") })
	require.Eventually(t, func() bool { return h.State().Dead }, waitTimeout, poll)
	assert.Equal(t, 1, ps.Profiles()[0].Deaths)

	srt.NextTick(func() { srt.ConsoleCommand("startround") })
	require.Eventually(t, func() bool { return h.State().Round }, waitTimeout, poll)
}
