package memory

import (
	"context"
	"sync"

	"github.com/trickstertwo/xchannel"
)

type statKey struct {
	channelID  string
	metaDataID int
	serverID   string
	status     xchannel.Status
}

var _ xchannel.StatisticsStore = (*StatisticsStore)(nil)

// StatisticsStore keeps flushed statistics in memory. Apply is all or
// nothing.
type StatisticsStore struct {
	mu     sync.RWMutex
	counts map[statKey]int64
}

func NewStatisticsStore() *StatisticsStore {
	return &StatisticsStore{counts: map[statKey]int64{}}
}

func (s *StatisticsStore) Apply(ctx context.Context, ops []xchannel.FlushOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.counts[statKey{op.ChannelID, op.MetaDataID, op.ServerID, op.Status}] += op.Delta
	}
	return nil
}

// Get returns the stored count for one connector and status.
func (s *StatisticsStore) Get(channelID string, metaDataID int, serverID string, status xchannel.Status) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[statKey{channelID, metaDataID, serverID, status}]
}

// Channel returns every count of channelID summed over servers.
func (s *StatisticsStore) Channel(channelID string) map[int]map[xchannel.Status]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[int]map[xchannel.Status]int64{}
	for k, v := range s.counts {
		if k.channelID != channelID {
			continue
		}
		if out[k.metaDataID] == nil {
			out[k.metaDataID] = map[xchannel.Status]int64{}
		}
		out[k.metaDataID][k.status] += v
	}
	return out
}

var _ xchannel.IDSequence = (*Sequence)(nil)

// Sequence hands out per-channel message ids starting at 1.
type Sequence struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewSequence() *Sequence { return &Sequence{last: map[string]int64{}} }

func (s *Sequence) Next(_ context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[channelID]++
	return s.last[channelID], nil
}

var _ xchannel.Archiver = (*Archiver)(nil)

// Archiver keeps the most recent processed messages of every channel.
type Archiver struct {
	mu    sync.RWMutex
	limit int
	msgs  map[string][]*xchannel.Message
}

// NewArchiver keeps up to limit messages per channel (default: 1000).
func NewArchiver(limit int) *Archiver {
	if limit < 1 {
		limit = 1000
	}
	return &Archiver{limit: limit, msgs: map[string][]*xchannel.Message{}}
}

func (a *Archiver) Archive(_ context.Context, msg *xchannel.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := append(a.msgs[msg.ChannelID], msg)
	if len(list) > a.limit {
		list = list[len(list)-a.limit:]
	}
	a.msgs[msg.ChannelID] = list
	return nil
}

// Messages returns archived messages of channelID, oldest first.
func (a *Archiver) Messages(channelID string) []*xchannel.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*xchannel.Message(nil), a.msgs[channelID]...)
}
