package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsNeedOnlyAPort(t *testing.T) {
	cfg := Default()
	require.ErrorIs(t, cfg.Validate(), ErrInvalidPort)

	cfg.Port = 11000
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5*time.Second, cfg.Discovery.Interval)
	require.Equal(t, 5, cfg.Transfer.MaxRetries)
	require.Zero(t, cfg.PeerTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, ErrInvalidPort},
		{"port too high", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"no retries", func(c *Config) { c.Transfer.MaxRetries = 0 }, ErrInvalidConfig},
		{"no workers", func(c *Config) { c.Transfer.MaxConcurrentChunks = 0 }, ErrInvalidConfig},
		{"zero interval", func(c *Config) { c.Discovery.Interval = 0 }, ErrInvalidConfig},
		{"negative ttl", func(c *Config) { c.PeerTTL = -time.Second }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Port = 11000
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 11001
base_dir: /srv/p2p
peer_ttl: 30s
discovery:
  interval: 2s
  target: 192.168.1.255:9999
transfer:
  max_retries: 3
log_level: debug
`), 0644))

	t.Setenv(EnvBaseDir, "/override")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 11001, cfg.Port)
	require.Equal(t, "/override", cfg.BaseDir)
	require.Equal(t, 30*time.Second, cfg.PeerTTL)
	require.Equal(t, 2*time.Second, cfg.Discovery.Interval)
	require.Equal(t, "192.168.1.255:9999", cfg.Discovery.Target)
	require.Equal(t, ":9999", cfg.Discovery.Listen)
	require.Equal(t, 3, cfg.Transfer.MaxRetries)
	require.Equal(t, 8, cfg.Transfer.MaxConcurrentChunks)
	require.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 11000\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
