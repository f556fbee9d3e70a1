// Package ringbuffer provides a bounded, thread-safe FIFO buffer that drops the
// oldest entry when full.
package ringbuffer

import "sync"

// Buffer is a bounded FIFO of T. When full, Enqueue drops the oldest entry to
// make room and counts it in Dropped.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// New creates a buffer with the given capacity (default 1024).
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// TryEnqueue adds an item unless the buffer is full.
func (b *Buffer[T]) TryEnqueue(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		return false
	}
	b.push(item)
	return true
}

// Enqueue adds an item, dropping the oldest if necessary.
// It returns the dropped item and true when a drop happened.
func (b *Buffer[T]) Enqueue(item T) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted T
	dropped := false
	if b.count >= b.capacity {
		evicted = b.items[b.tail]
		b.items[b.tail] = *new(T)
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}
	b.push(item)
	return evicted, dropped
}

func (b *Buffer[T]) push(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// DequeueBatch removes up to n items in FIFO order.
func (b *Buffer[T]) DequeueBatch(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Dropped returns the total number of items dropped to make room.
func (b *Buffer[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
