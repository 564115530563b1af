package prefetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection(t *testing.T) {
	c := NewCollection([]string{"a", "b", "a"})
	require.Equal(t, 3, c.Len())

	it, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "b", it.URL)
	assert.False(t, it.Loaded())

	require.NoError(t, c.SetResult(2, &Payload{URL: "a"}))
	assert.Equal(t, 1, c.Loaded())
	assert.Equal(t, []int{0, 2}, c.IndexesOf("a"))
	assert.Nil(t, c.IndexesOf("missing"))

	items := c.Items()
	items[0].URL = "changed"
	it, _ = c.Get(0)
	assert.Equal(t, "a", it.URL, "Items returns a copy")
}

func TestCollectionOutOfRange(t *testing.T) {
	c := NewCollection([]string{"a"})

	_, err := c.Get(1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = c.Get(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, c.SetResult(3, &Payload{}), ErrOutOfRange)
}
