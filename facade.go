package xchannel

import (
	"context"
	"sync"
)

var (
	defaultEngine   *Engine
	defaultEngineMu sync.Mutex
)

// Default returns the process-wide Engine, creating one with default
// dependencies on first use.
func Default() *Engine {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()

	if defaultEngine == nil {
		defaultEngine = NewEngine(Dependencies{})
	}
	return defaultEngine
}

// SetDefault replaces the process-wide Engine.
func SetDefault(e *Engine) {
	if e == nil {
		panic("xchannel: SetDefault called with nil Engine")
	}
	defaultEngineMu.Lock()
	defaultEngine = e
	defaultEngineMu.Unlock()
}

// Deploy is the Facade using the default engine.
func Deploy(ctx context.Context, def ChannelDefinition) (*Channel, error) {
	return Default().DeployDefinition(ctx, def)
}

// Undeploy is the Facade using the default engine.
func Undeploy(ctx context.Context, id string) error {
	return Default().Undeploy(ctx, id)
}
