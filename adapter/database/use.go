// Package database provides a polling SQL reader source and a statement
// writer destination over Postgres, MySQL or SQLite.
//
// Connector type: "database"
//
// Reader keys: dialect, dsn, query, schedule (cron spec, default
// "@every 10s"), aggregate, update, update_params.
//
// Writer keys: dialect, dsn, statement, params. Statements use ?
// placeholders for every dialect.
package database

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

const TypeName = "database"

func init() {
	if err := xchannel.RegisterSourceType(TypeName, func(props map[string]any) (xchannel.Receiver, error) {
		return NewReader(ConfigFromMap(props), nil)
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register source type %q: %w", TypeName, err))
	}
	if err := xchannel.RegisterDestinationType(TypeName, func(props map[string]any) (xchannel.Sender, error) {
		return NewWriter(ConfigFromMap(props), nil)
	}); err != nil {
		panic(fmt.Errorf("xchannel: failed to register destination type %q: %w", TypeName, err))
	}
}
