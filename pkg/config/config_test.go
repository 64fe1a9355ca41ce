package config

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Port)
	assert.Equal(t, "0.0.0.0:9999", cfg.Address())
	assert.Equal(t, BackendFile, cfg.SnapshotBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadServerConfigPrecedence(t *testing.T) {
	t.Setenv("CACHEM_PORT", "7000")
	t.Setenv("CACHEM_HOST", "127.0.0.1")
	t.Setenv("CACHEM_SNAPSHOT", "none")

	cfg, err := LoadServerConfig(newFlagSet(), []string{"-port", "7001", "-log-format", "json"})
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Port, "flag wins over env")
	assert.Equal(t, "127.0.0.1", cfg.Host, "env wins over default")
	assert.Equal(t, BackendNone, cfg.SnapshotBackend)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadServerConfigInvalidEnv(t *testing.T) {
	t.Setenv("CACHEM_MAX_CONNS", "lots")
	_, err := LoadServerConfig(newFlagSet(), nil)
	assert.ErrorContains(t, err, "CACHEM_MAX_CONNS")
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		ok     bool
	}{
		{"defaults", func(*ServerConfig) {}, true},
		{"zero timeouts disable deadlines", func(c *ServerConfig) { c.ReadTimeout, c.WriteTimeout = 0, 0 }, true},
		{"bad port", func(c *ServerConfig) { c.Port = 70000 }, false},
		{"no conns", func(c *ServerConfig) { c.MaxConns = 0 }, false},
		{"negative timeout", func(c *ServerConfig) { c.ReadTimeout = -1 }, false},
		{"bad level", func(c *ServerConfig) { c.LogLevel = "trace" }, false},
		{"bad format", func(c *ServerConfig) { c.LogFormat = "xml" }, false},
		{"bad backend", func(c *ServerConfig) { c.SnapshotBackend = "s3" }, false},
		{"redis without addr", func(c *ServerConfig) { c.SnapshotBackend = BackendRedis }, false},
		{"redis with addr", func(c *ServerConfig) {
			c.SnapshotBackend = BackendRedis
			c.RedisAddr = "localhost:6379"
		}, true},
		{"file without dir", func(c *ServerConfig) { c.DataDir = "" }, false},
		{"no sequences", func(c *ServerConfig) { c.MaxSequenceLen = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("CACHEM_ADDRESS", "cache1:9999")
	t.Setenv("CACHEM_ACQUIRE_TIMEOUT", "3")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "cache1:9999", cfg.Address)
	assert.Equal(t, 3, cfg.AcquireTimeout)
	assert.Equal(t, DefaultMaxConnsPerClient, cfg.MaxConns)
	assert.NoError(t, cfg.Validate())
}

func TestClientConfigValidate(t *testing.T) {
	cfg := DefaultClientConfig()
	require.NoError(t, cfg.Validate())

	cfg.Address = "no-port"
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.RetryAttempts = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.AcquireTimeout = 0
	assert.Error(t, cfg.Validate())
}
