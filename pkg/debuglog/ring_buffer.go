package debuglog

import "sync"

// RingBuffer is a generic fixed-capacity circular buffer.
// Entries are evicted in FIFO order when capacity is reached.
type RingBuffer[T any] struct {
	mu sync.RWMutex

	entries  []T
	capacity int

	totalAdded int64 // Monotonic counter of all entries ever added
	head       int   // Index where next write goes
}

// NewRingBuffer creates a ring buffer holding at most capacity entries.
// A capacity below 1 is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// WriteOne appends a single entry, evicting the oldest if the buffer is full.
func (rb *RingBuffer[T]) WriteOne(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) < rb.capacity {
		rb.entries = append(rb.entries, entry)
	} else {
		rb.entries[rb.head] = entry
	}
	rb.head = (rb.head + 1) % rb.capacity
	rb.totalAdded++
}

// ReadAll returns all entries currently in the buffer, oldest first.
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if len(rb.entries) == 0 {
		return nil
	}

	result := make([]T, len(rb.entries))
	if len(rb.entries) < rb.capacity {
		copy(result, rb.entries)
		return result
	}
	// Full buffer: the oldest entry sits at head.
	n := copy(result, rb.entries[rb.head:])
	copy(result[n:], rb.entries[:rb.head])
	return result
}

// Len returns the number of entries currently held.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// Capacity returns the maximum number of entries held.
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// TotalAdded returns the number of entries ever written, including evicted ones.
func (rb *RingBuffer[T]) TotalAdded() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.totalAdded
}

// Clear drops all entries. TotalAdded is preserved.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries = rb.entries[:0]
	rb.head = 0
}
