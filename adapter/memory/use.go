package memory

import (
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use builds an Engine backed by in-memory statistics, ids and archive and
// installs it as the process-wide default.
//
// Example:
//
//	engine := memory.Use(
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
//	ch, err := xchannel.Deploy(ctx, def)
func Use(opts ...Option) *xchannel.Engine {
	deps := xchannel.Dependencies{
		Store:    NewStatisticsStore(),
		IDs:      NewSequence(),
		Archiver: NewArchiver(0),
	}
	for _, o := range opts {
		if o != nil {
			o(&deps)
		}
	}
	e := xchannel.NewEngine(deps)
	xchannel.SetDefault(e)
	return e
}

// Option configures the engine dependencies when calling Use.
type Option func(*xchannel.Dependencies)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(d *xchannel.Dependencies) { d.Logger = l }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(d *xchannel.Dependencies) { d.Clock = c }
}

// WithServerID sets the server id recorded with statistics.
func WithServerID(id string) Option {
	return func(d *xchannel.Dependencies) { d.ServerID = id }
}

// WithScriptRuntime sets the filter/transformer runtime.
func WithScriptRuntime(rt xchannel.ScriptRuntime) Option {
	return func(d *xchannel.Dependencies) { d.Runtime = rt }
}

// WithObserver attaches observers for lifecycle and message events.
func WithObserver(obs ...xchannel.Observer) Option {
	return func(d *xchannel.Dependencies) { d.Observers = append(d.Observers, obs...) }
}
