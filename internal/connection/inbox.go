package connection

import "sync"

// inbox is an unbounded FIFO of work items for a supervisor's event loop.
// It is a ring buffer that doubles its capacity at 70% fill, so posting
// never blocks a transport goroutine or a timer callback.
type inbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool
}

func newInbox[T any](initialCapacity int) *inbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &inbox[T]{buf: make([]T, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends an item. Returns false if the inbox is closed.
func (b *inbox[T]) push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := len(b.buf) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.cond.Signal()
	return true
}

// pop blocks until an item is available. Returns false once the inbox is
// closed and drained.
func (b *inbox[T]) pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.buf[b.head]
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	return item, true
}

// close rejects further pushes. Queued items are still delivered.
func (b *inbox[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *inbox[T]) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// grow doubles the capacity. Must be called with lock held.
func (b *inbox[T]) grow() {
	next := make([]T, len(b.buf)*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.buf[b.head:b.tail])
		} else {
			n := copy(next, b.buf[b.head:])
			copy(next[n:], b.buf[:b.tail])
		}
	}
	b.buf = next
	b.head = 0
	b.tail = b.count
}
