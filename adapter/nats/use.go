// Package nats provides NATS connectors for xchannel.
//
// Connector type: "nats"
//
// Config keys: url (default nats://127.0.0.1:4222), name, username,
// password, token, max_reconnects, reconnect_wait, timeout, subject, queue
// (source queue group), request (destination waits for a reply) and
// request_timeout.
package nats

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

const TypeName = "nats"

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
