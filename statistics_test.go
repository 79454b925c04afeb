package xchannel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatisticsAccumulator_FlushOrder tests that the source comes first and
// statuses follow the fixed order.
func TestStatisticsAccumulator_FlushOrder(t *testing.T) {
	a := NewStatisticsAccumulator()
	a.Increment(2, StatusSent)
	a.Increment(1, StatusError)
	a.Increment(1, StatusReceived)
	a.Increment(0, StatusFiltered)
	a.Increment(0, StatusReceived)
	a.Add(2, StatusQueued, 0)

	ops := a.FlushOperations("ch", "srv")
	require.Len(t, ops, 5)

	got := make([][2]any, 0, len(ops))
	for _, op := range ops {
		assert.Equal(t, "ch", op.ChannelID)
		assert.Equal(t, "srv", op.ServerID)
		assert.Equal(t, int64(1), op.Delta)
		got = append(got, [2]any{op.MetaDataID, op.Status})
	}
	assert.Equal(t, [][2]any{
		{0, StatusReceived},
		{0, StatusFiltered},
		{1, StatusReceived},
		{1, StatusError},
		{2, StatusSent},
	}, got)

	// Flushing does not clear counters.
	assert.Equal(t, int64(1), a.Get(0, StatusReceived))
	a.Reset()
	assert.True(t, a.Empty())
	assert.Empty(t, a.FlushOperations("ch", "srv"))
}

// TestStatisticsAccumulator_MergeDrain tests carrying counts between flushes.
func TestStatisticsAccumulator_MergeDrain(t *testing.T) {
	pending := NewStatisticsAccumulator()
	pending.Add(0, StatusReceived, 2)

	next := NewStatisticsAccumulator()
	next.Increment(0, StatusReceived)
	next.Increment(1, StatusSent)

	batch := pending.Drain()
	assert.True(t, pending.Empty())
	batch.Merge(next)
	batch.Merge(batch)
	batch.Merge(nil)

	assert.Equal(t, int64(3), batch.Get(0, StatusReceived))
	assert.Equal(t, int64(1), batch.Get(1, StatusSent))

	snap := batch.Snapshot()
	snap[0][StatusReceived] = 100
	assert.Equal(t, int64(3), batch.Get(0, StatusReceived), "snapshot must be a copy")
}

// TestStatisticsAccumulator_Concurrent tests concurrent increments.
func TestStatisticsAccumulator_Concurrent(t *testing.T) {
	a := NewStatisticsAccumulator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				a.Increment(j%3, StatusReceived)
			}
		}()
	}
	wg.Wait()

	var total int64
	for _, byStatus := range a.Snapshot() {
		total += byStatus[StatusReceived]
	}
	assert.Equal(t, int64(4000), total)
}
