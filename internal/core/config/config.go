package config

import (
	"time"

	redisclient "github.com/vietddude/fetchkit/internal/infra/redis"
	"github.com/vietddude/fetchkit/internal/infra/storage/postgres"
	"github.com/vietddude/fetchkit/internal/resilience"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Cache    CacheConfig        `yaml:"cache"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Fetch    FetchConfig        `yaml:"fetch"`
	Prefetch []PrefetchConfig   `yaml:"prefetch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CacheConfig selects and tunes the content store.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory, file, redis, postgres
	Dir           string        `yaml:"dir"`     // file backend only
	TTL           time.Duration `yaml:"ttl"`     // 0 = keep forever
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// FetchConfig holds network fetch settings.
type FetchConfig struct {
	Timeout      time.Duration          `yaml:"timeout"`
	MaxBodyBytes int64                  `yaml:"max_body_bytes"`
	UserAgent    string                 `yaml:"user_agent"`
	Retry        resilience.RetryConfig `yaml:"retry"`
}

// PrefetchConfig declares a resource kept warm by a background task.
type PrefetchConfig struct {
	Name      string `yaml:"name"`
	URI       string `yaml:"uri"`
	ParentID  string `yaml:"parent_id"`
	Permanent bool   `yaml:"permanent"`
}
