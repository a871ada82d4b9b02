// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used to surface diagnostic events without ever blocking the
// producer.
package ringchan

import "sync/atomic"

// Ring wraps a buffered channel so that senders never block: when the buffer
// is full the oldest element is discarded to make room.
//
// Producers call Send; consumers either range over C() or poll TryReceive.
type Ring[T any] struct {
	ch      chan T
	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// Send inserts v, discarding the oldest buffered element if the ring is full.
// It never blocks indefinitely.
func (r *Ring[T]) Send(v T) {
	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch: // drop oldest
			r.dropped.Add(1)
		default:
		}
		r.ch <- v
	}
	r.sent.Add(1)
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// value is ready.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Sent returns the total number of elements ever sent.
func (r *Ring[T]) Sent() int64 { return r.sent.Load() }

// Dropped returns the number of elements discarded to make room.
func (r *Ring[T]) Dropped() int64 { return r.dropped.Load() }

// Close closes the underlying channel. Send panics after Close.
func (r *Ring[T]) Close() { close(r.ch) }
