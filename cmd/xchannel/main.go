// Command xchannel runs integration channels declared in a YAML file.
//
//	xchannel run --channels channels.yaml
//	xchannel validate channels.yaml
//	xchannel types
package main

import (
	// Connector types and data types register themselves on import.
	_ "github.com/trickstertwo/xchannel/adapter/database"
	_ "github.com/trickstertwo/xchannel/adapter/file"
	_ "github.com/trickstertwo/xchannel/adapter/memory"
	_ "github.com/trickstertwo/xchannel/adapter/mllp"
	_ "github.com/trickstertwo/xchannel/adapter/nats"
	_ "github.com/trickstertwo/xchannel/adapter/redisstream"
	_ "github.com/trickstertwo/xchannel/hl7v2"
)

func main() {
	Execute()
}
