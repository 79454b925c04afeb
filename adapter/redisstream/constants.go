package redisstream

import "time"

// Field constants (avoid typos/allocs)
const (
	fieldData         = "data"
	fieldChannel      = "channelId"
	fieldMessageID    = "messageId"
	fieldConnector    = "connector"
	fieldDataType     = "dataType"
	fieldProducedAt   = "producedAt" // int64 ns
	fieldSourcePrefix = "src:"
)

// Key prefixes for non-stream state.
const (
	keyStats    = "xchannel:stats:"
	keySequence = "xchannel:seq:"
)

const pingTimeout = 2 * time.Second
