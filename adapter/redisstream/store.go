package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xclock"
)

var _ xchannel.StatisticsStore = (*StatisticsStore)(nil)

// StatisticsStore keeps statistics in one hash per channel and server. Hash
// fields are "<metaDataId>:<status>". A flush runs as a MULTI/EXEC pipeline.
type StatisticsStore struct {
	client *redis.Client
}

func NewStatisticsStore(client *redis.Client) *StatisticsStore {
	return &StatisticsStore{client: client}
}

func statsKey(channelID, serverID string) string {
	return keyStats + channelID + ":" + serverID
}

func statsField(metaDataID int, status xchannel.Status) string {
	return strconv.Itoa(metaDataID) + ":" + string(status)
}

func (s *StatisticsStore) Apply(ctx context.Context, ops []xchannel.FlushOperation) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			p.HIncrBy(ctx, statsKey(op.ChannelID, op.ServerID), statsField(op.MetaDataID, op.Status), op.Delta)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstream: apply statistics: %w", err)
	}
	return nil
}

// Channel reads the stored counts of channelID for one server.
func (s *StatisticsStore) Channel(ctx context.Context, channelID, serverID string) (map[int]map[xchannel.Status]int64, error) {
	raw, err := s.client.HGetAll(ctx, statsKey(channelID, serverID)).Result()
	if err != nil {
		return nil, err
	}
	out := map[int]map[xchannel.Status]int64{}
	for field, v := range raw {
		idStr, status, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if out[id] == nil {
			out[id] = map[xchannel.Status]int64{}
		}
		out[id][xchannel.Status(status)] = n
	}
	return out, nil
}

var _ xchannel.IDSequence = (*Sequence)(nil)

// Sequence allocates message ids with INCR, shared by every server using the
// same Redis.
type Sequence struct {
	client *redis.Client
}

func NewSequence(client *redis.Client) *Sequence { return &Sequence{client: client} }

func (s *Sequence) Next(ctx context.Context, channelID string) (int64, error) {
	id, err := s.client.Incr(ctx, keySequence+channelID).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstream: next message id: %w", err)
	}
	return id, nil
}

var _ xchannel.Archiver = (*Archiver)(nil)

// Archiver appends processed messages as JSON to "<prefix><channelId>".
type Archiver struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewArchiver trims each archive stream to about maxLen entries when
// maxLen > 0.
func NewArchiver(client *redis.Client, prefix string, maxLen int64) *Archiver {
	if prefix == "" {
		prefix = "xchannel:archive:"
	}
	return &Archiver{client: client, prefix: prefix, maxLen: maxLen}
}

func (a *Archiver) Archive(ctx context.Context, msg *xchannel.Message) error {
	doc, err := xchannel.MarshalMessage(msg)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: a.prefix + msg.ChannelID,
		ID:     "*",
		Values: map[string]any{
			fieldMessageID: strconv.FormatInt(msg.ID, 10),
			fieldData:      doc,
		},
	}
	if a.maxLen > 0 {
		args.MaxLen = a.maxLen
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

var _ xchannel.Observer = (*EventPublisher)(nil)

// EventPublisher is an Observer that appends channel events to a stream so
// other processes can follow dashboards. Publishing errors are dropped.
type EventPublisher struct {
	client *redis.Client
	stream string
	clock  xclock.Clock
}

func NewEventPublisher(client *redis.Client, stream string) *EventPublisher {
	if stream == "" {
		stream = "xchannel:events"
	}
	return &EventPublisher{client: client, stream: stream, clock: xclock.Default()}
}

func (p *EventPublisher) OnEvent(e xchannel.Event) {
	values := map[string]any{
		"type":          string(e.Type),
		fieldChannel:    e.ChannelID,
		fieldConnector:  e.ConnectorName,
		"metaDataId":    e.MetaDataID,
		fieldProducedAt: p.clock.Now().UnixNano(),
	}
	switch e.Type {
	case xchannel.EventStateChanged:
		values["state"] = string(e.State)
	case xchannel.EventConnectionStatus:
		values["connectionStatus"] = string(e.ConnectionStatus)
		values["info"] = e.Info
	case xchannel.EventMessageProcessed:
		values[fieldMessageID] = e.MessageID
		values["status"] = string(e.Status)
		values["durationMs"] = e.Duration.Milliseconds()
	}
	if e.Err != nil {
		values["error"] = e.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	_ = p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, ID: "*", MaxLen: 10000, Approx: true, Values: values}).Err()
}
