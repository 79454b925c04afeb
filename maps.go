package xchannel

import (
	"encoding/json"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is an insertion-ordered string-keyed map used for the source, channel,
// connector and response maps. A nil *Map reads as empty.
type Map struct {
	mu sync.RWMutex
	om *orderedmap.OrderedMap[string, any]
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{om: orderedmap.New[string, any]()}
}

// MapOf builds a Map from a plain map. Keys keep Go's iteration order,
// so callers that care about order should Put entries explicitly.
func MapOf(src map[string]any) *Map {
	m := NewMap()
	for k, v := range src {
		m.om.Set(k, v)
	}
	return m
}

func (m *Map) Put(key string, value any) {
	m.mu.Lock()
	m.om.Set(key, value)
	m.mu.Unlock()
}

func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.om.Get(key)
}

func (m *Map) Delete(key string) {
	m.mu.Lock()
	m.om.Delete(key)
	m.mu.Unlock()
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.om.Len()
}

// Keys returns keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, m.om.Len())
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Range calls fn in insertion order until it returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := m.om.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Clone returns a shallow copy preserving order.
func (m *Map) Clone() *Map {
	out := NewMap()
	m.Range(func(k string, v any) bool {
		out.om.Set(k, v)
		return true
	})
	return out
}

// Merge copies every entry of src into m, overwriting existing keys.
func (m *Map) Merge(src *Map) {
	src.Range(func(k string, v any) bool {
		m.Put(k, v)
		return true
	})
}

// ToMap flattens into a plain map.
func (m *Map) ToMap() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.om)
}
