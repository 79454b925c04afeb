package xchannel

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnectorMessage(t *testing.T, metaDataID int) (*Message, *ConnectorMessage) {
	t.Helper()
	msg := NewMessage(7, "ch", "srv", time.Now())
	cm, err := msg.NewConnectorMessage(metaDataID, "conn", nil, time.Now())
	require.NoError(t, err)
	return msg, cm
}

// TestConnectorMessage_RawImmutable tests that RAW is written once.
func TestConnectorMessage_RawImmutable(t *testing.T) {
	_, cm := newTestConnectorMessage(t, 0)

	require.NoError(t, cm.SetContent(ContentRaw, "first", DataTypeRaw, false))
	err := cm.SetContent(ContentRaw, "second", DataTypeRaw, false)
	assert.True(t, errors.Is(err, ErrRawContentImmutable))
	assert.Equal(t, "first", cm.Raw().Data)
	assert.Equal(t, "first", cm.ProcessedRawData())

	require.NoError(t, cm.SetContent(ContentProcessedRaw, "pre", DataTypeRaw, false))
	assert.Equal(t, "pre", cm.ProcessedRawData())

	assert.Error(t, cm.SetContent(contentSlots, "x", DataTypeRaw, false))
	assert.Nil(t, cm.Content(contentSlots))
}

// TestConnectorMessage_SetStatus tests status transitions.
func TestConnectorMessage_SetStatus(t *testing.T) {
	_, cm := newTestConnectorMessage(t, 1)
	assert.Equal(t, StatusReceived, cm.Status)

	require.NoError(t, cm.SetStatus(StatusTransformed))
	require.NoError(t, cm.SetStatus(StatusSent))
	require.NoError(t, cm.SetStatus(StatusSent), "same status is a no-op")

	err := cm.SetStatus(StatusError)
	assert.True(t, errors.Is(err, ErrIllegalStatusTransition))
	assert.Equal(t, StatusSent, cm.Status)

	_, cm = newTestConnectorMessage(t, 1)
	assert.True(t, errors.Is(cm.SetStatus("BOGUS"), ErrIllegalStatusTransition))

	// Non-terminal statuses only move forward.
	require.NoError(t, cm.SetStatus(StatusPending))
	assert.True(t, errors.Is(cm.SetStatus(StatusTransformed), ErrIllegalStatusTransition))
	assert.True(t, errors.Is(cm.SetStatus(StatusReceived), ErrIllegalStatusTransition))
	assert.Equal(t, StatusPending, cm.Status)
	require.NoError(t, cm.SetStatus(StatusQueued))
	_, cm = newTestConnectorMessage(t, 1)
	require.NoError(t, cm.SetStatus(StatusTransformed))
	assert.True(t, errors.Is(cm.SetStatus(StatusReceived), ErrIllegalStatusTransition))
	_, cm = newTestConnectorMessage(t, 1)

	cm.Fail(errors.New("boom"))
	assert.Equal(t, StatusError, cm.Status)
	assert.Equal(t, "boom", cm.ProcessingError)
}

// TestMessage_NewConnectorMessage tests connector attachment and map sharing.
func TestMessage_NewConnectorMessage(t *testing.T) {
	msg := NewMessage(1, "ch", "srv", time.Now())
	src, err := msg.NewConnectorMessage(0, "Source", nil, time.Now())
	require.NoError(t, err)
	src.ChannelMap.Put("k", "v")

	dst, err := msg.NewConnectorMessage(2, "Dest", src.ChannelMap, time.Now())
	require.NoError(t, err)
	_, err = msg.NewConnectorMessage(2, "Dest", nil, time.Now())
	assert.Error(t, err)

	dst.ChannelMap.Put("k", "changed")
	v, _ := src.ChannelMap.Get("k")
	assert.Equal(t, "v", v, "channel map is copied per connector")

	msg.SourceMap().Put("shared", 1)
	got, ok := dst.SourceMap.Get("shared")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	assert.Same(t, src, msg.Source())
	assert.Same(t, dst, msg.Connector(2))
	conns := msg.Connectors()
	require.Len(t, conns, 2)
	assert.Equal(t, 0, conns[0].MetaDataID)
	assert.Equal(t, 2, conns[1].MetaDataID)
}

// TestConnectorMessage_Lookup tests connector, channel and source map priority.
func TestConnectorMessage_Lookup(t *testing.T) {
	msg, cm := newTestConnectorMessage(t, 0)
	msg.SourceMap().Put("a", "source")
	msg.SourceMap().Put("b", "source")
	msg.SourceMap().Put("c", "source")
	cm.ChannelMap.Put("a", "channel")
	cm.ChannelMap.Put("b", "channel")
	cm.ConnectorMap.Put("a", "connector")
	cm.ConnectorMap.Put("c", nil)

	for key, want := range map[string]string{"a": "connector", "b": "channel", "c": "source"} {
		v, ok := cm.Lookup(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
	_, ok := cm.Lookup("missing")
	assert.False(t, ok)
}

// TestMap tests ordering, JSON encoding and nil reads.
func TestMap(t *testing.T) {
	m := NewMap()
	m.Put("z", 1)
	m.Put("a", "two")
	m.Put("m", true)
	m.Put("z", 3)

	assert.Equal(t, []string{"z", "a", "m"}, m.Keys())
	assert.Equal(t, 3, m.Len())

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z":3,"a":"two","m":true}`, string(b))
	assert.Equal(t, `{"z":3,"a":"two","m":true}`, string(b))

	cp := m.Clone()
	cp.Delete("a")
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"z", "m"}, cp.Keys())

	other := NewMap()
	other.Put("n", "new")
	other.Put("z", 9)
	m.Merge(other)
	assert.Equal(t, map[string]any{"z": 9, "a": "two", "m": true, "n": "new"}, m.ToMap())

	var visited []string
	m.Range(func(k string, _ any) bool {
		visited = append(visited, k)
		return len(visited) < 2
	})
	assert.Equal(t, []string{"z", "a"}, visited)

	var nilMap *Map
	_, ok := nilMap.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, nilMap.Len())
	assert.Nil(t, nilMap.Keys())
	assert.Equal(t, 0, nilMap.Clone().Len())
	b, err = nilMap.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

// TestStatus tests the status predicates.
func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusFiltered, StatusQueued, StatusError} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusReceived, StatusTransformed, StatusPending} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StatusQueued.Successful())
	assert.False(t, StatusFiltered.Successful())
	assert.False(t, StatusError.Successful())
	assert.False(t, Status("LOST").Valid())
}
