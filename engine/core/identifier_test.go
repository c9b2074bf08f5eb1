package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePoolAcquireRelease(t *testing.T) {
	pool := NewHandlePool(4)

	a := pool.Acquire("a")
	b := pool.Acquire("b")
	assert.NotEqual(t, InvalidHandle, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, pool.Len())

	owner, ok := pool.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", owner)

	require.NoError(t, pool.Release(a))
	_, ok = pool.Get(a)
	assert.False(t, ok)
	assert.Error(t, pool.Release(a))

	// slot is reused with a bumped generation
	c := pool.Acquire("c")
	assert.Equal(t, a.Index(), c.Index())
	assert.NotEqual(t, a, c)
	assert.Equal(t, a.Generation()+1, c.Generation())

	_, ok = pool.Get(InvalidHandle)
	assert.False(t, ok)
}
