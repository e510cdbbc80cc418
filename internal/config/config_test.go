package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPriority(t *testing.T) {
	asserts := assert.New(t)

	t.Setenv("MESHCALL_SERVER", "wss://relay.example.com/ws")
	t.Setenv("STUN_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("MESHCALL_NAME", "")

	cfg, err := Load(Options{Name: "alice"})
	require.NoError(t, err)

	asserts.Equal("wss://relay.example.com/ws", cfg.ServerURL)
	asserts.Equal("alice", cfg.Name)
	asserts.Equal([]string{"stun:a.example.com:3478", "stun:b.example.com:3478"}, cfg.ICEServers)
	asserts.Equal(DefaultMedia, cfg.MediaDir)
	asserts.Empty(cfg.RecordDir)

	cfg, err = Load(Options{ServerURL: "ws://127.0.0.1:9000/ws", STUNServers: "stun:c.example.com"})
	require.NoError(t, err)
	asserts.Equal("ws://127.0.0.1:9000/ws", cfg.ServerURL)
	asserts.Equal([]string{"stun:c.example.com"}, cfg.ICEServers)
	asserts.NotEmpty(cfg.Name, "a random name is generated when none is given")
}

func TestLoadRejectsBadScheme(t *testing.T) {
	_, err := Load(Options{ServerURL: "http://localhost:8080/ws"})
	assert.Error(t, err)
}

func relayFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.Int("history-limit", 200, "")
	fs.String("redis-url", "", "")
	return fs
}

func TestLoadRelayDefaults(t *testing.T) {
	cfg, err := LoadRelay(nil, "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 200, cfg.HistoryLimit)
	assert.Equal(t, int64(100), cfg.RateBurst)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadRelayLayering(t *testing.T) {
	asserts := assert.New(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(file, []byte("addr: \":7000\"\nhistory-limit: 50\nrate-burst: 10\n"), 0o600))

	t.Setenv("MESHCALL_HISTORY_LIMIT", "75")

	fs := relayFlags()
	require.NoError(t, fs.Parse([]string{"--redis-url", "redis://localhost:6379/0"}))

	cfg, err := LoadRelay(fs, file)
	require.NoError(t, err)

	asserts.Equal(":7000", cfg.Addr, "file beats unchanged flag default")
	asserts.Equal(75, cfg.HistoryLimit, "env beats file")
	asserts.Equal(int64(10), cfg.RateBurst)
	asserts.Equal("redis://localhost:6379/0", cfg.RedisURL, "changed flag wins")
}

func TestLoadRelayValidation(t *testing.T) {
	t.Setenv("MESHCALL_HISTORY_LIMIT", "0")
	_, err := LoadRelay(nil, "")
	assert.Error(t, err)
}
