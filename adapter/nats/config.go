package nats

import (
	"fmt"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/spf13/cast"
)

// Config configures NATS sources and destinations.
type Config struct {
	URL      string
	Name     string
	Username string
	Password string
	Token    string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Subject string
	// Queue is the queue group of a source. Members share the subject.
	Queue string

	// Request makes a destination wait for a reply; the reply becomes the
	// response. Otherwise messages are published.
	Request        bool
	RequestTimeout time.Duration
}

func Defaults() Config {
	return Config{
		URL:            gonats.DefaultURL,
		Name:           "xchannel",
		MaxReconnects:  60,
		ReconnectWait:  2 * time.Second,
		Timeout:        5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats: url required")
	}
	if c.Subject == "" {
		return fmt.Errorf("nats: subject required")
	}
	return nil
}

// ConfigFromMap converts connector properties to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	for key, dst := range map[string]*string{
		"url":      &c.URL,
		"name":     &c.Name,
		"username": &c.Username,
		"password": &c.Password,
		"token":    &c.Token,
		"subject":  &c.Subject,
		"queue":    &c.Queue,
	} {
		if v, ok := m[key]; ok {
			if s, err := cast.ToStringE(v); err == nil && s != "" {
				*dst = s
			}
		}
	}
	if v, ok := m["max_reconnects"]; ok {
		if n, err := cast.ToIntE(v); err == nil {
			c.MaxReconnects = n
		}
	}
	for key, dst := range map[string]*time.Duration{
		"reconnect_wait":  &c.ReconnectWait,
		"timeout":         &c.Timeout,
		"request_timeout": &c.RequestTimeout,
	} {
		if v, ok := m[key]; ok {
			if d, err := cast.ToDurationE(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}
	if v, ok := m["request"]; ok {
		c.Request = cast.ToBool(v)
	}
	return c
}

// options builds connection options; status receives connection changes.
func (c Config) options(status func(connected bool, info string)) []gonats.Option {
	opts := []gonats.Option{
		gonats.Name(c.Name),
		gonats.MaxReconnects(c.MaxReconnects),
		gonats.ReconnectWait(c.ReconnectWait),
		gonats.Timeout(c.Timeout),
	}
	if status != nil {
		opts = append(opts,
			gonats.DisconnectErrHandler(func(_ *gonats.Conn, err error) {
				info := "disconnected"
				if err != nil {
					info = err.Error()
				}
				status(false, info)
			}),
			gonats.ReconnectHandler(func(nc *gonats.Conn) { status(true, nc.ConnectedUrlRedacted()) }),
		)
	}
	if c.Username != "" && c.Password != "" {
		opts = append(opts, gonats.UserInfo(c.Username, c.Password))
	}
	if c.Token != "" {
		opts = append(opts, gonats.Token(c.Token))
	}
	return opts
}

func (c Config) connect(status func(bool, string)) (*gonats.Conn, error) {
	nc, err := gonats.Connect(c.URL, c.options(status)...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", c.URL, err)
	}
	return nc, nil
}
