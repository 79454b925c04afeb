package mllp

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Config configures both the listener source and the sender destination.
type Config struct {
	// Addr is the listen address (source) or remote address (destination).
	Addr string

	// Source
	MaxConnections int
	IdleTimeout    time.Duration
	MaxFrameSize   int

	// Destination
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	// KeepOpen reuses the connection between messages.
	KeepOpen bool
	// IgnoreResponse sends without waiting for a reply frame.
	IgnoreResponse bool
}

// Defaults returns a Config with safe defaults.
func Defaults() Config {
	return Config{
		MaxConnections:  64,
		IdleTimeout:     5 * time.Minute,
		MaxFrameSize:    16 << 20,
		ConnectTimeout:  10 * time.Second,
		ResponseTimeout: 30 * time.Second,
		KeepOpen:        true,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("mllp: addr required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("mllp: max_connections must be >= 1, got %d", c.MaxConnections)
	}
	if c.MaxFrameSize < 1 {
		return fmt.Errorf("mllp: max_frame_size must be >= 1, got %d", c.MaxFrameSize)
	}
	return nil
}

// ConfigFromMap converts connector properties to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, err := cast.ToStringE(m["addr"]); err == nil && v != "" {
		c.Addr = v
	}
	if v, err := cast.ToIntE(m["max_connections"]); err == nil && v > 0 {
		c.MaxConnections = v
	}
	if v, err := cast.ToIntE(m["max_frame_size"]); err == nil && v > 0 {
		c.MaxFrameSize = v
	}
	for key, dst := range map[string]*time.Duration{
		"idle_timeout":     &c.IdleTimeout,
		"connect_timeout":  &c.ConnectTimeout,
		"response_timeout": &c.ResponseTimeout,
	} {
		if raw, ok := m[key]; ok {
			if d, err := cast.ToDurationE(raw); err == nil && d > 0 {
				*dst = d
			}
		}
	}
	if raw, ok := m["keep_open"]; ok {
		c.KeepOpen = cast.ToBool(raw)
	}
	if raw, ok := m["ignore_response"]; ok {
		c.IgnoreResponse = cast.ToBool(raw)
	}
	return c
}
