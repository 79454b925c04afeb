package file

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

// After-processing actions of the reader.
const (
	ActionMove   = "move"
	ActionDelete = "delete"
	ActionNone   = "none"
)

// Config configures the reader source and the writer destination.
type Config struct {
	// Dir is read by the source and written by the destination.
	Dir string

	// Reader
	Pattern  string
	Schedule string
	Watch    bool
	Debounce time.Duration
	// AfterProcessing is move, delete or none.
	AfterProcessing string
	MoveTo          string
	ErrorDir        string

	// Writer. FileName may reference ${messageId}, ${channelId},
	// ${connector}, ${metaDataId} and any map variable.
	FileName string
	Append   bool
}

func Defaults() Config {
	return Config{
		Pattern:         "*",
		Schedule:        "@every 5s",
		Debounce:        500 * time.Millisecond,
		AfterProcessing: ActionDelete,
		FileName:        "${channelId}-${messageId}.msg",
	}
}

// ValidateReader checks the source settings.
func (c Config) ValidateReader() error {
	if c.Dir == "" {
		return fmt.Errorf("file: dir required")
	}
	if _, err := filepath.Match(c.Pattern, ""); err != nil {
		return fmt.Errorf("file: bad pattern %q: %w", c.Pattern, err)
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("file: bad schedule %q: %w", c.Schedule, err)
		}
	}
	if c.Schedule == "" && !c.Watch {
		return fmt.Errorf("file: schedule or watch required")
	}
	switch c.AfterProcessing {
	case ActionDelete, ActionNone:
	case ActionMove:
		if c.MoveTo == "" {
			return fmt.Errorf("file: move_to required when after_processing is move")
		}
	default:
		return fmt.Errorf("file: unknown after_processing %q", c.AfterProcessing)
	}
	return nil
}

// ValidateWriter checks the destination settings.
func (c Config) ValidateWriter() error {
	if c.Dir == "" {
		return fmt.Errorf("file: dir required")
	}
	if c.FileName == "" {
		return fmt.Errorf("file: file_name required")
	}
	return nil
}

// ConfigFromMap converts connector properties to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	str := func(k string, dst *string) {
		if v, ok := m[k]; ok {
			if s, err := cast.ToStringE(v); err == nil {
				*dst = s
			}
		}
	}
	str("dir", &c.Dir)
	str("pattern", &c.Pattern)
	str("schedule", &c.Schedule)
	str("after_processing", &c.AfterProcessing)
	str("move_to", &c.MoveTo)
	str("error_dir", &c.ErrorDir)
	str("file_name", &c.FileName)
	if v, ok := m["watch"]; ok {
		c.Watch = cast.ToBool(v)
	}
	if v, ok := m["append"]; ok {
		c.Append = cast.ToBool(v)
	}
	if v, ok := m["debounce"]; ok {
		if d, err := cast.ToDurationE(v); err == nil && d >= 0 {
			c.Debounce = d
		}
	}
	return c
}
