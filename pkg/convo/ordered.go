package convo

import "encoding/json"

// OrderedMap is an insertion-ordered string-keyed map with explicit
// prepend, remove, and in-order iteration. The pending-intent queue, slot
// containers, and per-turn output all rely on its ordering guarantees;
// plain map iteration order is never used for anything user-visible.
type OrderedMap[V any] struct {
	keys []string
	vals map[string]V
}

// NewOrderedMap creates an empty ordered map.
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{vals: make(map[string]V)}
}

// Set appends the key at the back, or updates it in place if present.
func (m *OrderedMap[V]) Set(key string, value V) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

// Prepend inserts the key at the front, or moves it there if present.
func (m *OrderedMap[V]) Prepend(key string, value V) {
	if _, ok := m.vals[key]; ok {
		m.remove(key)
	}
	m.keys = append([]string{key}, m.keys...)
	m.vals[key] = value
}

// Get returns the value for key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (m *OrderedMap[V]) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

// Delete removes the key, preserving the order of the rest.
func (m *OrderedMap[V]) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	m.remove(key)
	delete(m.vals, key)
}

func (m *OrderedMap[V]) remove(key string) {
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in insertion order.
func (m *OrderedMap[V]) Values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.vals[k])
	}
	return out
}

// Front returns the first key and value.
func (m *OrderedMap[V]) Front() (string, V, bool) {
	if len(m.keys) == 0 {
		var zero V
		return "", zero, false
	}
	return m.keys[0], m.vals[m.keys[0]], true
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *OrderedMap[V]) Range(fn func(key string, value V) bool) {
	for _, k := range append([]string(nil), m.keys...) {
		if v, ok := m.vals[k]; ok {
			if !fn(k, v) {
				return
			}
		}
	}
}

// MarshalJSON encodes the map as an ordered array of {key, value} pairs.
func (m *OrderedMap[V]) MarshalJSON() ([]byte, error) {
	type pair struct {
		Key   string `json:"key"`
		Value V      `json:"value"`
	}
	pairs := make([]pair, 0, len(m.keys))
	for _, k := range m.keys {
		pairs = append(pairs, pair{Key: k, Value: m.vals[k]})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the ordered pair encoding produced by MarshalJSON.
func (m *OrderedMap[V]) UnmarshalJSON(data []byte) error {
	type pair struct {
		Key   string `json:"key"`
		Value V      `json:"value"`
	}
	var pairs []pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	m.keys = nil
	m.vals = make(map[string]V, len(pairs))
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return nil
}
