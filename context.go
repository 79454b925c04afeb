package xchannel

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type scopeKey struct{}

// dispatchScope is what a dispatch hands down to script runtimes and senders.
// It is stored by value; every injection copies it.
type dispatchScope struct {
	logger    *xlog.Logger
	clock     xclock.Clock
	script    ScriptContext
	hasScript bool
}

func scopeOf(ctx context.Context) dispatchScope {
	s, _ := ctx.Value(scopeKey{}).(dispatchScope)
	return s
}

func withScope(ctx context.Context, edit func(*dispatchScope)) context.Context {
	s := scopeOf(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// LoggerFromContext returns the channel logger injected for a dispatch.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l := scopeOf(ctx).logger
	return l, l != nil
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	c := scopeOf(ctx).clock
	return c, c != nil
}

func injectScriptContext(ctx context.Context, sc ScriptContext) context.Context {
	return withScope(ctx, func(s *dispatchScope) {
		s.script = sc
		s.hasScript = true
	})
}

// ScriptContextFromContext returns the channel and connector a send runs for.
func ScriptContextFromContext(ctx context.Context) (ScriptContext, bool) {
	s := scopeOf(ctx)
	return s.script, s.hasScript
}

// InjectAll stores logger and clock for everything called during a dispatch.
// Nil values leave the current ones in place.
func InjectAll(ctx context.Context, logger *xlog.Logger, clock xclock.Clock) context.Context {
	return withScope(ctx, func(s *dispatchScope) {
		if logger != nil {
			s.logger = logger
		}
		if clock != nil {
			s.clock = clock
		}
	})
}
