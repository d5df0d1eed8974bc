package pipeline

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics: producers never block indefinitely, and when the buffer is
// full the oldest element is discarded. It is the marshaling boundary
// between the transport's callback goroutines and the core's single
// consumer context.
type RingChannel[T any] struct {
	ch          chan T
	mu          sync.RWMutex // guards closed against the send in Send
	closed      bool
	overwritten atomic.Uint64
}

// NewRingChannel creates a ring channel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range
// over it until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest if the buffer is full.
// Sends after or concurrent with Close are dropped; Send never panics.
func (rc *RingChannel[T]) Send(v T) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed {
		return
	}
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.overwritten.Add(1)
		default:
		}
		select {
		case rc.ch <- v:
		default:
		}
	}
}

// Overwritten returns how many items were discarded to make room.
func (rc *RingChannel[T]) Overwritten() uint64 {
	return rc.overwritten.Load()
}

// Close marks the channel closed for senders and closes the underlying
// channel so consumers draining C() terminate. Safe to call while
// senders are active, and idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}
