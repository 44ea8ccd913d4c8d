package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	EnvLogLevel = "P2P_LOG_LEVEL"
	EnvBaseDir  = "P2P_BASE_DIR"
)

var (
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
	ErrInvalidConfig = errors.New("invalid config")
)

type DiscoveryConfig struct {
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
	Target   string        `yaml:"target"`
	// MDNS additionally advertises and browses for nodes over multicast DNS.
	MDNS bool `yaml:"mdns"`
}

type TransferConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	ChunkTimeout        time.Duration `yaml:"chunk_timeout"`
	ServerIdleTimeout   time.Duration `yaml:"server_idle_timeout"`
	MaxConcurrentChunks int           `yaml:"max_concurrent_chunks"`
}

type Config struct {
	Port    int    `yaml:"port"`
	BaseDir string `yaml:"base_dir"`
	// PeerTTL hides owners silent for longer than this; zero keeps them forever.
	PeerTTL time.Duration `yaml:"peer_ttl"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Transfer  TransferConfig  `yaml:"transfer"`

	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
	ShowProgress  bool          `yaml:"show_progress"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

func Default() Config {
	return Config{
		BaseDir: ".",
		Discovery: DiscoveryConfig{
			Interval: 5 * time.Second,
			Listen:   ":9999",
			Target:   "255.255.255.255:9999",
		},
		Transfer: TransferConfig{
			MaxRetries:          5,
			ChunkTimeout:        5 * time.Second,
			ServerIdleTimeout:   10 * time.Second,
			MaxConcurrentChunks: 8,
		},
		LogLevel:     "info",
		LogFile:      "logs/p2p-swarm.log",
		ShowProgress: true,
	}
}

// Load builds a config from defaults, the optional YAML file at path, an optional .env
// file in the working directory and finally the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// a missing .env is fine; variables already set win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvBaseDir); v != "" {
		c.BaseDir = v
	}
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}

	checks := []struct {
		ok   bool
		what string
	}{
		{c.Discovery.Interval > 0, "discovery.interval must be positive"},
		{c.Discovery.Listen != "", "discovery.listen is required"},
		{c.Discovery.Target != "", "discovery.target is required"},
		{c.Transfer.MaxRetries > 0, "transfer.max_retries must be positive"},
		{c.Transfer.ChunkTimeout > 0, "transfer.chunk_timeout must be positive"},
		{c.Transfer.ServerIdleTimeout > 0, "transfer.server_idle_timeout must be positive"},
		{c.Transfer.MaxConcurrentChunks > 0, "transfer.max_concurrent_chunks must be positive"},
		{c.PeerTTL >= 0, "peer_ttl must not be negative"},
		{c.StatsInterval >= 0, "stats_interval must not be negative"},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, check.what)
		}
	}
	return nil
}
