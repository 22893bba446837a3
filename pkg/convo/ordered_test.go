package convo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedMapInsertionOrder(t *testing.T) {
	m := NewOrderedMap[int]()
	m.Set("b", 2)
	m.Set("a", 1)
	m.Set("c", 3)

	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())
	assert.Equal(t, []int{2, 1, 3}, m.Values())

	// Re-setting an existing key keeps its position.
	m.Set("a", 10)
	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestOrderedMapPrepend(t *testing.T) {
	m := NewOrderedMap[string]()
	m.Set("x", "first")
	m.Prepend("y", "jumped ahead")

	key, val, ok := m.Front()
	require.True(t, ok)
	assert.Equal(t, "y", key)
	assert.Equal(t, "jumped ahead", val)

	// Prepending an existing key moves it to the front.
	m.Prepend("x", "moved")
	assert.Equal(t, []string{"x", "y"}, m.Keys())
}

func TestOrderedMapDelete(t *testing.T) {
	m := NewOrderedMap[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("a")
	m.Delete("missing")

	assert.Equal(t, 1, m.Len())
	assert.False(t, m.Has("a"))
	assert.True(t, m.Has("b"))
}

func TestOrderedMapRangeStops(t *testing.T) {
	m := NewOrderedMap[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	var seen []string
	m.Range(func(key string, _ int) bool {
		seen = append(seen, key)
		return key != "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestOrderedMapJSONPreservesOrder(t *testing.T) {
	m := NewOrderedMap[int]()
	m.Set("z", 26)
	m.Set("a", 1)
	m.Set("m", 13)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	decoded := NewOrderedMap[int]()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, []string{"z", "a", "m"}, decoded.Keys())
	assert.Equal(t, []int{26, 1, 13}, decoded.Values())
}
