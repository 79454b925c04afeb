package xchannel

import (
	"errors"
	"sort"
	"sync"
)

// SourceFactory constructs receivers from connector properties.
type SourceFactory func(props map[string]any) (Receiver, error)

// DestinationFactory constructs senders from connector properties.
type DestinationFactory func(props map[string]any) (Sender, error)

var (
	sourceRegistryMu sync.RWMutex
	sourceRegistry   = map[string]SourceFactory{}

	destinationRegistryMu sync.RWMutex
	destinationRegistry   = map[string]DestinationFactory{}
)

// RegisterSourceType registers a source connector type. Adapters call it
// from init.
func RegisterSourceType(name string, factory SourceFactory) error {
	if name == "" {
		return errors.New("source type name must not be empty")
	}
	if factory == nil {
		return errors.New("source factory must not be nil")
	}
	sourceRegistryMu.Lock()
	sourceRegistry[name] = factory
	sourceRegistryMu.Unlock()
	return nil
}

// NewReceiver constructs a receiver by type name.
func NewReceiver(name string, props map[string]any) (Receiver, error) {
	sourceRegistryMu.RLock()
	f, ok := sourceRegistry[name]
	sourceRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownConnectorType{name: name}
	}
	return f(props)
}

// RegisterDestinationType registers a destination connector type.
func RegisterDestinationType(name string, factory DestinationFactory) error {
	if name == "" {
		return errors.New("destination type name must not be empty")
	}
	if factory == nil {
		return errors.New("destination factory must not be nil")
	}
	destinationRegistryMu.Lock()
	destinationRegistry[name] = factory
	destinationRegistryMu.Unlock()
	return nil
}

// NewSender constructs a sender by type name.
func NewSender(name string, props map[string]any) (Sender, error) {
	destinationRegistryMu.RLock()
	f, ok := destinationRegistry[name]
	destinationRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownConnectorType{name: name}
	}
	return f(props)
}

// ConnectorTypes lists registered source and destination type names.
func ConnectorTypes() (sources, destinations []string) {
	sourceRegistryMu.RLock()
	for name := range sourceRegistry {
		sources = append(sources, name)
	}
	sourceRegistryMu.RUnlock()
	destinationRegistryMu.RLock()
	for name := range destinationRegistry {
		destinations = append(destinations, name)
	}
	destinationRegistryMu.RUnlock()
	sort.Strings(sources)
	sort.Strings(destinations)
	return sources, destinations
}
