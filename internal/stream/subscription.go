package stream

import (
	"context"
	"sync"
)

// Subscription delivers the latest value of a stream. At most one value is
// buffered; a value not yet received is replaced by a newer one.
type Subscription[T any] struct {
	ch      chan T
	once    sync.Once
	release func()
}

func newSubscription[T any]() *Subscription[T] {
	return &Subscription[T]{ch: make(chan T, 1)}
}

// C returns the delivery channel. It is never closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Next blocks until a value is available or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// offer must be called with the producer's lock held so that there is only
// ever one sender.
func (s *Subscription[T]) offer(v T) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
