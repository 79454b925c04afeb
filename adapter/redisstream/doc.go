// Package redisstream provides Redis Streams connectors and Redis backed
// engine storage for xchannel.
//
// Connector type: "redis-streams"
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - stream: stream to read (source) or append to (destination)
// - group: consumer group name (default "xchannel")
// - consumer: consumer name (default "xchannel-<host>-<pid>")
// - concurrency: number of workers (default 8)
// - batch_size: XREADGROUP COUNT (default 128)
// - block: XREADGROUP BLOCK duration (default 5s)
// - auto_create: create group/stream if missing (default true)
// - auto_delete_on_ack: XDEL after XACK (default false)
// - dead_letter: stream name to write failed entries (optional)
// - max_len_approx: approximate MAXLEN for destination appends (optional)
// - claim_min_idle, claim_batch, claim_interval: pending entry recovery
//
// Example channel definition:
//
//	source:
//	  type: redis-streams
//	  properties:
//	    addr: localhost:6379
//	    stream: adt-in
//	    group: adt
//	    dead_letter: adt-dlq
//	destinations:
//	  - name: archive
//	    metaDataId: 1
//	    type: redis-streams
//	    properties: {stream: adt-out}
package redisstream
