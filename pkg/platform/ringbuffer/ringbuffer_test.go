package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_FIFO(t *testing.T) {
	b := New[int](3)
	require.True(t, b.TryEnqueue(1))
	require.True(t, b.TryEnqueue(2))
	require.True(t, b.TryEnqueue(3))
	assert.False(t, b.TryEnqueue(4), "full buffer rejects TryEnqueue")

	assert.Equal(t, []int{1, 2}, b.DequeueBatch(2))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []int{3}, b.DequeueBatch(10))
	assert.Nil(t, b.DequeueBatch(1))
}

func TestBuffer_EnqueueDropsOldest(t *testing.T) {
	b := New[string](2)
	b.Enqueue("a")
	b.Enqueue("b")

	evicted, dropped := b.Enqueue("c")
	assert.True(t, dropped)
	assert.Equal(t, "a", evicted)
	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, []string{"b", "c"}, b.DequeueBatch(5))
}

func TestBuffer_Concurrent(t *testing.T) {
	b := New[int](1000)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 100 {
				b.Enqueue(i*100 + j)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 1000, b.Len())
	assert.Equal(t, int64(0), b.Dropped())
}
