package stream

import (
	"context"
	"sync"
)

// Watchable is anything that can signal "changed" on a conflated channel.
type Watchable interface {
	Watch() (<-chan struct{}, func())
}

// Value holds a current value and notifies subscribers when it changes.
type Value[T any] struct {
	mu       sync.Mutex
	v        T
	subs     map[*Subscription[T]]struct{}
	watchers map[chan struct{}]struct{}
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:        initial,
		subs:     make(map[*Subscription[T]]struct{}),
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLocked(x)
}

// Update applies fn to the current value atomically and returns the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	x := fn(v.v)
	v.setLocked(x)
	return x
}

func (v *Value[T]) setLocked(x T) {
	v.v = x
	for s := range v.subs {
		s.offer(x)
	}
	for w := range v.watchers {
		signal(w)
	}
}

// Subscribe returns a subscription that already holds the current value.
func (v *Value[T]) Subscribe() *Subscription[T] {
	s := newSubscription[T]()
	s.release = func() {
		v.mu.Lock()
		delete(v.subs, s)
		v.mu.Unlock()
	}

	v.mu.Lock()
	v.subs[s] = struct{}{}
	s.offer(v.v)
	v.mu.Unlock()
	return s
}

// Watch returns a channel that is signalled once immediately and again after
// every change, plus a function to stop watching.
func (v *Value[T]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	v.mu.Lock()
	v.watchers[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, ch)
			v.mu.Unlock()
		})
	}
}

// Merge returns a channel that is signalled whenever any of the sources
// changes. Signals are conflated. Because every source signals on Watch, the
// returned channel holds one signal right away. Watching stops when ctx is done.
func Merge(ctx context.Context, sources ...Watchable) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, src := range sources {
		ch, stop := src.Watch()
		go func() {
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					signal(out)
				}
			}
		}()
	}
	return out
}
