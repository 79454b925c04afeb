package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

// TypeName is the connector type registered for sources and destinations.
const TypeName = "redis-streams"

func init() {
	if err := xchannel.RegisterSourceType(TypeName, func(props map[string]any) (xchannel.Receiver, error) {
		return NewReceiver(ConfigFromMap(props), nil)
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register source type %q: %w", TypeName, err))
	}
	if err := xchannel.RegisterDestinationType(TypeName, func(props map[string]any) (xchannel.Sender, error) {
		return NewSender(ConfigFromMap(props), nil)
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register destination type %q: %w", TypeName, err))
	}
}

// Use builds an Engine whose statistics, message ids and archive live in
// Redis, installs it as the process-wide default and returns it.
// Mirrors xlog/xclock "Use" behavior: explicit construction and global install.
func Use(cfg Config, opts ...Option) *xchannel.Engine {
	client, err := NewClient(cfg)
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	deps := xchannel.Dependencies{
		Store:    NewStatisticsStore(client),
		IDs:      NewSequence(client),
		Archiver: NewArchiver(client, "", 0),
	}
	for _, o := range opts {
		if o != nil {
			o(client, &deps)
		}
	}
	e := xchannel.NewEngine(deps)
	xchannel.SetDefault(e)
	return e
}
