package msgflow

// Buffer is a bounded FIFO used for admission control.
// Push never blocks; it fails with ErrBackpressure once Len reaches Cap.
// Buffer is safe for concurrent use.
type Buffer[T any] struct {
	slots chan T
}

// NewBuffer creates a buffer holding at most capacity items.
// A capacity below one is treated as one.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{slots: make(chan T, capacity)}
}

// Push appends v, or returns ErrBackpressure if the buffer is full.
func (b *Buffer[T]) Push(v T) error {
	select {
	case b.slots <- v:
		return nil
	default:
		return ErrBackpressure
	}
}

// Pop removes and returns the oldest item. It reports false if the buffer
// is empty.
func (b *Buffer[T]) Pop() (T, bool) {
	select {
	case v := <-b.slots:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (b *Buffer[T]) Len() int {
	return len(b.slots)
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return cap(b.slots)
}
