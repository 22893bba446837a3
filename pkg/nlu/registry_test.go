package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Has("keyword"))
	assert.True(t, r.Has("luis"))
	assert.False(t, r.Has("bogus"))

	p, err := r.Build("keyword", nil)
	require.NoError(t, err)
	assert.Equal(t, "keyword", p.Name())

	p, err = r.Build("luis", map[string]string{"url": "http://localhost/predict"})
	require.NoError(t, err)
	assert.Equal(t, "luis", p.Name())
}

func TestRegistryLuisRequiresURL(t *testing.T) {
	_, err := NewRegistry().Build("luis", nil)
	require.Error(t, err)
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := NewRegistry().Build("bogus", nil)
	require.Error(t, err)
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	custom := NewKeywordProvider([]KeywordRule{{Intent: "X", Keywords: []string{"x"}}})
	r.Register("keyword", func(config map[string]string) (Provider, error) {
		return custom, nil
	})

	p, err := r.Build("keyword", nil)
	require.NoError(t, err)
	assert.Same(t, Provider(custom), p)
}
