// Package config loads the engine settings of an xchannel server from the
// environment (and optional .env files) and channel definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Storage backends for statistics, message ids and the archive.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQL    = "sql"
)

// DefaultEnvFiles are tried, in order, by Load when no files are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

type RedisOptions struct {
	Addr          string `env:"XCHANNEL_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Username      string `env:"XCHANNEL_REDIS_USERNAME"`
	Password      string `env:"XCHANNEL_REDIS_PASSWORD"`
	DB            int    `env:"XCHANNEL_REDIS_DB" envDefault:"0"`
	TLS           bool   `env:"XCHANNEL_REDIS_TLS" envDefault:"false"`
	ArchivePrefix string `env:"XCHANNEL_REDIS_ARCHIVE_PREFIX" envDefault:"xchannel:archive:"`
	ArchiveMaxLen int64  `env:"XCHANNEL_REDIS_ARCHIVE_MAXLEN" envDefault:"100000"`
	EventStream   string `env:"XCHANNEL_REDIS_EVENT_STREAM"`
}

type SQLOptions struct {
	Dialect string `env:"XCHANNEL_SQL_DIALECT" envDefault:"postgres"`
	DSN     string `env:"XCHANNEL_SQL_DSN"`
	Migrate bool   `env:"XCHANNEL_SQL_MIGRATE" envDefault:"true"`
}

type LogOptions struct {
	Debug   bool `env:"XCHANNEL_LOG_DEBUG" envDefault:"false"`
	Console bool `env:"XCHANNEL_LOG_CONSOLE" envDefault:"false"`
	Caller  bool `env:"XCHANNEL_LOG_CALLER" envDefault:"true"`
}

type MetricsOptions struct {
	Enabled bool   `env:"XCHANNEL_METRICS_ENABLED" envDefault:"true"`
	Addr    string `env:"XCHANNEL_METRICS_ADDR" envDefault:":9464"`
	Path    string `env:"XCHANNEL_METRICS_PATH" envDefault:"/metrics"`
}

// EngineConfig is the process configuration of an xchannel server.
type EngineConfig struct {
	// ServerID is recorded with statistics. A random UUID is used when unset.
	ServerID        string        `env:"XCHANNEL_SERVER_ID"`
	Storage         string        `env:"XCHANNEL_STORAGE" envDefault:"memory"`
	ChannelsFile    string        `env:"XCHANNEL_CHANNELS_FILE" envDefault:"channels.yaml"`
	ShutdownTimeout time.Duration `env:"XCHANNEL_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Redis   RedisOptions
	SQL     SQLOptions
	Log     LogOptions
	Metrics MetricsOptions
}

// LoadEnv loads the env files that exist and returns how many were read.
// Variables already set in the environment win.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fi, err := os.Stat(file); err == nil && !fi.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads envFiles (DefaultEnvFiles when none are given), parses the
// environment and validates the result.
func Load(envFiles ...string) (*EngineConfig, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("config: load env files: %w", err)
	}
	c := &EngineConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if c.ServerID == "" {
		c.ServerID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *EngineConfig) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis addr is required when storage is 'redis'"))
		}
	case StorageSQL:
		if c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql dsn is required when storage is 'sql'"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage must be 'memory', 'redis' or 'sql', got '%s'", c.Storage))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics addr is required when metrics are enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
