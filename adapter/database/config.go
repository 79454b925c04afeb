package database

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
	"github.com/trickstertwo/xchannel/adapter/sqlstore"
)

// Config configures the polling reader and the statement writer.
type Config struct {
	// Dialect is postgres, mysql or sqlite.
	Dialect string
	DSN     string

	// Reader
	Query    string
	Schedule string
	// Aggregate dispatches all rows of one poll as a single JSON array.
	Aggregate bool
	// Update runs after each successfully dispatched row (or once after an
	// aggregated poll) with UpdateParams taken from the row's columns.
	Update       string
	UpdateParams []string

	// Writer: Statement runs with Params. A param is a map variable name or
	// one of messageId, channelId, connector, encoded.
	Statement string
	Params    []string
}

func Defaults() Config {
	return Config{Dialect: "postgres", Schedule: "@every 10s"}
}

func (c Config) validateConn() error {
	if _, err := sqlstore.DialectFor(c.Dialect); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("database: dsn required")
	}
	return nil
}

// ValidateReader checks the source settings.
func (c Config) ValidateReader() error {
	if err := c.validateConn(); err != nil {
		return err
	}
	if c.Query == "" {
		return fmt.Errorf("database: query required")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("database: bad schedule %q: %w", c.Schedule, err)
	}
	if c.Aggregate && len(c.UpdateParams) > 0 {
		return fmt.Errorf("database: update_params cannot be used with aggregate")
	}
	return nil
}

// ValidateWriter checks the destination settings.
func (c Config) ValidateWriter() error {
	if err := c.validateConn(); err != nil {
		return err
	}
	if c.Statement == "" {
		return fmt.Errorf("database: statement required")
	}
	return nil
}

// ConfigFromMap converts connector properties to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	for key, dst := range map[string]*string{
		"dialect":   &c.Dialect,
		"dsn":       &c.DSN,
		"query":     &c.Query,
		"schedule":  &c.Schedule,
		"update":    &c.Update,
		"statement": &c.Statement,
	} {
		if v, ok := m[key]; ok {
			if s, err := cast.ToStringE(v); err == nil && s != "" {
				*dst = s
			}
		}
	}
	if v, ok := m["aggregate"]; ok {
		c.Aggregate = cast.ToBool(v)
	}
	if v, ok := m["update_params"]; ok {
		c.UpdateParams = cast.ToStringSlice(v)
	}
	if v, ok := m["params"]; ok {
		c.Params = cast.ToStringSlice(v)
	}
	return c
}
