package xchannel

import (
	"context"
	"sort"
	"sync"
)

// FlushOperation is one deferred atomic increment against statistics storage.
type FlushOperation struct {
	ChannelID  string
	MetaDataID int
	ServerID   string
	Status     Status
	Delta      int64
}

// StatisticsStore applies a flush set. Implementations must apply every
// operation as an increment, and either all of them or none.
type StatisticsStore interface {
	Apply(ctx context.Context, ops []FlushOperation) error
}

// StatisticsAccumulator collects per-connector, per-status counts in memory.
// It is safe for concurrent use.
type StatisticsAccumulator struct {
	mu     sync.Mutex
	counts map[int]map[Status]int64
}

func NewStatisticsAccumulator() *StatisticsAccumulator {
	return &StatisticsAccumulator{counts: make(map[int]map[Status]int64)}
}

// Increment bumps one counter by one.
func (a *StatisticsAccumulator) Increment(metaDataID int, status Status) {
	a.Add(metaDataID, status, 1)
}

// Add bumps one counter by n. Zero deltas are ignored.
func (a *StatisticsAccumulator) Add(metaDataID int, status Status, n int64) {
	if n == 0 {
		return
	}
	a.mu.Lock()
	byStatus, ok := a.counts[metaDataID]
	if !ok {
		byStatus = make(map[Status]int64)
		a.counts[metaDataID] = byStatus
	}
	byStatus[status] += n
	a.mu.Unlock()
}

// Get returns one counter.
func (a *StatisticsAccumulator) Get(metaDataID int, status Status) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[metaDataID][status]
}

// Snapshot returns a copy of all counters.
func (a *StatisticsAccumulator) Snapshot() map[int]map[Status]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]map[Status]int64, len(a.counts))
	for id, byStatus := range a.counts {
		cp := make(map[Status]int64, len(byStatus))
		for s, n := range byStatus {
			cp[s] = n
		}
		out[id] = cp
	}
	return out
}

// Empty reports whether no non-zero counter is held.
func (a *StatisticsAccumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, byStatus := range a.counts {
		for _, n := range byStatus {
			if n != 0 {
				return false
			}
		}
	}
	return true
}

// FlushOperations derives the flush set. Connector 0 always comes first, the
// rest by ascending metaDataId, statuses in a fixed order. Counters are not
// cleared; call Reset once every operation has committed.
func (a *StatisticsAccumulator) FlushOperations(channelID, serverID string) []FlushOperation {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]int, 0, len(a.counts))
	for id := range a.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == 0 || ids[j] == 0 {
			return ids[i] == 0 && ids[j] != 0
		}
		return ids[i] < ids[j]
	})

	var ops []FlushOperation
	for _, id := range ids {
		byStatus := a.counts[id]
		for _, s := range statusOrder {
			if n := byStatus[s]; n != 0 {
				ops = append(ops, FlushOperation{
					ChannelID:  channelID,
					MetaDataID: id,
					ServerID:   serverID,
					Status:     s,
					Delta:      n,
				})
			}
		}
	}
	return ops
}

// Reset clears every counter.
func (a *StatisticsAccumulator) Reset() {
	a.mu.Lock()
	a.counts = make(map[int]map[Status]int64)
	a.mu.Unlock()
}

// Merge adds every counter of other into a.
func (a *StatisticsAccumulator) Merge(other *StatisticsAccumulator) {
	if other == nil || other == a {
		return
	}
	for id, byStatus := range other.Snapshot() {
		for s, n := range byStatus {
			a.Add(id, s, n)
		}
	}
}

// Drain moves every counter out of a into a new accumulator.
func (a *StatisticsAccumulator) Drain() *StatisticsAccumulator {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := &StatisticsAccumulator{counts: a.counts}
	a.counts = make(map[int]map[Status]int64)
	return out
}
