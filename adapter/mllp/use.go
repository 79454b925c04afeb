// Package mllp provides HL7 MLLP listener and sender connectors.
//
// Connector type: "mllp"
//
// Config keys:
// - addr: listen address (source) or remote address (destination)
// - max_connections: concurrent client connections (default 64)
// - idle_timeout: close silent connections (default 5m)
// - max_frame_size: largest accepted frame in bytes (default 16 MiB)
// - connect_timeout, response_timeout: destination timeouts (10s, 30s)
// - keep_open: reuse the destination connection (default true)
// - ignore_response: do not wait for a reply frame (default false)
package mllp

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

const TypeName = "mllp"

func init() {
	if err := xchannel.RegisterSourceType(TypeName, func(props map[string]any) (xchannel.Receiver, error) {
		return NewReceiver(ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register source type %q: %w", TypeName, err))
	}
	if err := xchannel.RegisterDestinationType(TypeName, func(props map[string]any) (xchannel.Sender, error) {
		return NewSender(ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register destination type %q: %w", TypeName, err))
	}
}
