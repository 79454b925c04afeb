package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// Config for Redis Streams connectors with production-grade settings.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream is read by sources and written by destinations.
	Stream string

	// Consumer group (sources)
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	AutoCreate  bool

	// Stream management
	AutoDeleteOnAck bool
	DeadLetter      string
	MaxLenApprox    int64

	// Pending entry recovery (automatic crash recovery)
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xchannel"
	}

	return Config{
		Addr:            "127.0.0.1:6379",
		DB:              0,
		TLS:             false,
		Group:           "xchannel",
		Consumer:        fmt.Sprintf("xchannel-%s-%d", hostname, os.Getpid()),
		Concurrency:     8,
		BatchSize:       128,
		Block:           5 * time.Second,
		AutoCreate:      true,
		AutoDeleteOnAck: false,
		ClaimBatch:      128,
		ClaimInterval:   15 * time.Second,
	}
}

// Validate checks Config for connector use. Stream is checked by the
// connectors that need it.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

// ConfigFromMap converts connector properties to Config with defaults.
// Durations may be given as strings ("5s") or time.Duration.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	str := func(k string, dst *string) {
		if v, ok := m[k]; ok {
			if s, err := cast.ToStringE(v); err == nil && s != "" {
				*dst = s
			}
		}
	}
	num := func(k string, dst *int) {
		if v, ok := m[k]; ok {
			if n, err := cast.ToIntE(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	flag := func(k string, dst *bool) {
		if v, ok := m[k]; ok {
			if b, err := cast.ToBoolE(v); err == nil {
				*dst = b
			}
		}
	}
	dur := func(k string, dst *time.Duration) {
		if v, ok := m[k]; ok {
			if d, err := cast.ToDurationE(v); err == nil && d >= 0 {
				*dst = d
			}
		}
	}

	str("addr", &c.Addr)
	str("username", &c.Username)
	str("password", &c.Password)
	num("db", &c.DB)
	flag("tls", &c.TLS)
	str("tls_server_name", &c.TLSServerName)
	str("stream", &c.Stream)
	str("group", &c.Group)
	str("consumer", &c.Consumer)
	num("concurrency", &c.Concurrency)
	num("batch_size", &c.BatchSize)
	dur("block", &c.Block)
	flag("auto_create", &c.AutoCreate)
	flag("auto_delete_on_ack", &c.AutoDeleteOnAck)
	str("dead_letter", &c.DeadLetter)
	if v, ok := m["max_len_approx"]; ok {
		if n, err := cast.ToInt64E(v); err == nil && n > 0 {
			c.MaxLenApprox = n
		}
	}
	dur("claim_min_idle", &c.ClaimMinIdle)
	num("claim_batch", &c.ClaimBatch)
	dur("claim_interval", &c.ClaimInterval)

	return c
}

// NewClient opens a client for cfg and pings it.
func NewClient(cfg Config) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
