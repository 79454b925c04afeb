// Package file provides a directory reader source and a file writer
// destination.
//
// Connector type: "file"
//
// Reader keys: dir, pattern (glob, default "*"), schedule (cron spec,
// default "@every 5s"), watch (fsnotify, default false), debounce,
// after_processing (delete, move or none; default delete), move_to,
// error_dir.
//
// Writer keys: dir, file_name (default "${channelId}-${messageId}.msg"),
// append.
package file

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

const TypeName = "file"

func init() {
	if err := xchannel.RegisterSourceType(TypeName, func(props map[string]any) (xchannel.Receiver, error) {
		return NewReader(ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register source type %q: %w", TypeName, err))
	}
	if err := xchannel.RegisterDestinationType(TypeName, func(props map[string]any) (xchannel.Sender, error) {
		return NewWriter(ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register destination type %q: %w", TypeName, err))
	}
}
