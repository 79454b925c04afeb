package redisstream

import (
	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the engine dependencies when calling Use. The client is
// the one Use connected.
type Option func(*redis.Client, *xchannel.Dependencies)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(_ *redis.Client, d *xchannel.Dependencies) { d.Logger = l }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(_ *redis.Client, d *xchannel.Dependencies) { d.Clock = c }
}

// WithServerID sets the server id recorded with statistics.
func WithServerID(id string) Option {
	return func(_ *redis.Client, d *xchannel.Dependencies) { d.ServerID = id }
}

// WithScriptRuntime sets the filter/transformer runtime.
func WithScriptRuntime(rt xchannel.ScriptRuntime) Option {
	return func(_ *redis.Client, d *xchannel.Dependencies) { d.Runtime = rt }
}

// WithArchive sets the archive stream prefix and approximate length.
func WithArchive(prefix string, maxLen int64) Option {
	return func(c *redis.Client, d *xchannel.Dependencies) { d.Archiver = NewArchiver(c, prefix, maxLen) }
}

// WithEventStream publishes every channel event to stream.
func WithEventStream(stream string) Option {
	return func(c *redis.Client, d *xchannel.Dependencies) {
		d.Observers = append(d.Observers, NewEventPublisher(c, stream))
	}
}

// WithObserver attaches observers for lifecycle and message events.
func WithObserver(obs ...xchannel.Observer) Option {
	return func(_ *redis.Client, d *xchannel.Dependencies) { d.Observers = append(d.Observers, obs...) }
}
