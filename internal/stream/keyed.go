package stream

import "sync"

// Keyed holds one Shared computation per key. An entry is dropped once its
// computation goes idle, so a later Subscribe for the same key starts fresh.
type Keyed[K comparable, T any] struct {
	factory func(K) ComputeFunc[T]
	opts    Options

	mu      sync.Mutex
	entries map[K]*Shared[T]
}

// NewKeyed creates a Keyed whose entries are built by factory. opts.OnIdle is
// ignored.
func NewKeyed[K comparable, T any](factory func(K) ComputeFunc[T], opts Options) *Keyed[K, T] {
	return &Keyed[K, T]{
		factory: factory,
		opts:    opts,
		entries: make(map[K]*Shared[T]),
	}
}

// Subscribe subscribes to the computation for key, creating it if needed.
func (k *Keyed[K, T]) Subscribe(key K) *Subscription[T] {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.entries[key]
	if !ok {
		opts := k.opts
		var created *Shared[T]
		opts.OnIdle = func() { k.evict(key, created) }
		created = NewShared(k.factory(key), opts)
		k.entries[key] = created
		s = created
	}
	return s.Subscribe()
}

// Get returns the computation for key if one is live.
func (k *Keyed[K, T]) Get(key K) (*Shared[T], bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.entries[key]
	return s, ok
}

// Len returns the number of live entries.
func (k *Keyed[K, T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed[K, T]) evict(key K, s *Shared[T]) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cur, ok := k.entries[key]; ok && cur == s && s.State() == Idle {
		delete(k.entries, key)
	}
}
