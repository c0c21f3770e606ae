package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "server.yaml", `
log:
  level: debug
bridge:
  listen_addr: ":9000"
relay:
  enabled: true
  node_id: node-a
`)
	cfg := DefaultServerConfig()
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Bridge.ListenAddr)
	assert.Equal(t, 30, cfg.Bridge.HeartbeatTimeoutSec)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "node-a", cfg.Relay.NodeID)
	assert.Equal(t, "gamefw:relay:", cfg.Relay.Prefix)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "client.json", `{"server_url": "ws://example:1/ws", "use_json": true}`)
	cfg := DefaultClientConfig()
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "ws://example:1/ws", cfg.ServerURL)
	assert.True(t, cfg.UseJSON)
	assert.Equal(t, 5, cfg.HeartbeatIntervalSec)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server.yml", "redis:\n  addr: file:6379\n")
	t.Setenv("GAMEFW_REDIS_ADDR", "env:6379")
	t.Setenv("GAMEFW_LOADER_PHASE_TIMEOUT_SEC", "5")
	t.Setenv("GAMEFW_EVENTS_PROPAGATE_PANICS", "true")

	cfg := DefaultServerConfig()
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Loader.PhaseTimeoutSec)
	assert.True(t, cfg.Events.PropagatePanics)
}

func TestLoadErrors(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))

	bad := writeFile(t, "bad.json", "{not json")
	assert.Error(t, Load(bad, &cfg))

	t.Setenv("GAMEFW_BRIDGE_BURST", "many")
	assert.Error(t, Load("", &cfg))
}
