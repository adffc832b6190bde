package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[int](2)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, rq.Enqueue(3))
	head, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, head)
	assert.Equal(t, 2, rq.Len())

	for _, want := range []int{2, 3} {
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
