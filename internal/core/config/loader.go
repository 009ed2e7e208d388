package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/fetchkit/internal/infra/storage"
	"github.com/vietddude/fetchkit/internal/resilience"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running without a file.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = storage.BackendMemory
	}
	if c.Cache.Backend == storage.BackendFile && c.Cache.Dir == "" {
		c.Cache.Dir = "./data/cache"
	}
	if c.Cache.PruneInterval == 0 && c.Cache.TTL > 0 {
		// Prune at 1/10 of the TTL, between 1m and 1h.
		c.Cache.PruneInterval = min(max(c.Cache.TTL/10, time.Minute), time.Hour)
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Retry.MaxAttempts == 0 {
		c.Fetch.Retry.MaxAttempts = resilience.DefaultMaxAttempts
	}
	if c.Fetch.Retry.BaseDelay == 0 {
		c.Fetch.Retry.BaseDelay = resilience.DefaultBaseDelay
	}
	if c.Fetch.Retry.MaxDelay == 0 {
		c.Fetch.Retry.MaxDelay = resilience.DefaultMaxDelay
	}
	for i := range c.Prefetch {
		if c.Prefetch[i].Name == "" {
			c.Prefetch[i].Name = fmt.Sprintf("prefetch-%d", i)
		}
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	switch c.Cache.Backend {
	case storage.BackendMemory, storage.BackendFile:
	case storage.BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("cache backend %q requires redis.url", c.Cache.Backend)
		}
	case storage.BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("cache backend %q requires database.url", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for _, p := range c.Prefetch {
		if p.URI == "" {
			return fmt.Errorf("prefetch %q: uri is required", p.Name)
		}
	}
	return nil
}
