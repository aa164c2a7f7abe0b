package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutQueueFIFO(t *testing.T) {
	q := newOutQueue(8)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))

	frames := q.Drain()
	require.Len(t, frames, 3)
	assert.Equal(t, "a", string(frames[0]))
	assert.Equal(t, "c", string(frames[2]))
	assert.Zero(t, q.Len())
}

func TestOutQueueEvictsOldestFirst(t *testing.T) {
	q := newOutQueue(3)
	for i := 0; i < 5; i++ {
		q.Push([]byte(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.Dropped())

	frames := q.Drain()
	assert.Equal(t, "m2", string(frames[0]), "oldest surviving frame")
	assert.Equal(t, "m4", string(frames[2]))
}

func TestOutQueueClear(t *testing.T) {
	q := newOutQueue(8)
	q.Push([]byte("a"))
	q.Clear()
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}
