// Package ringchan provides a bounded channel with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like from a normal channel.
//
//	rc := ringchan.New[central.Peripheral](64)
//	rc.ForceSend(p)          // never blocks
//	for p := range rc.C() {} // until Close
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer that drops the oldest value when full.
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend attempts to insert without blocking.
// Returns true if successful, false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// ForceSend always succeeds, discarding the oldest value if needed.
// Returns true when a value was dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}

		// full: drop the oldest, unless a consumer just emptied a slot
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Written returns how many values were accepted.
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// Overwritten returns how many values were dropped to make room.
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}

// Close closes the underlying channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
