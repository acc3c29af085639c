package stream

import (
	"context"
	"sync"
	"time"

	"media-gallery/internal/metrics"
)

// State is the lifecycle state of a Shared computation.
type State int

const (
	// Idle means no subscribers and no running computation.
	Idle State = iota
	// Active means at least one subscriber and a running computation.
	Active
	// GracePeriod means no subscribers, computation still running, teardown
	// timer armed.
	GracePeriod
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case GracePeriod:
		return "grace"
	default:
		return "unknown"
	}
}

// ComputeFunc is the upstream computation of a Shared. It runs until ctx is
// cancelled and publishes results through emit.
type ComputeFunc[T any] func(ctx context.Context, emit func(T))

// Options configures a Shared.
type Options struct {
	// Name labels metrics.
	Name string
	// Grace is how long the computation survives without subscribers.
	Grace time.Duration
	// OnIdle is called, without locks held, after the computation is torn down.
	OnIdle func()
}

// Shared multicasts one computation to many subscribers with replay-of-one.
// The last value survives teardown and is replayed when the computation is
// restarted, until the new computation emits.
type Shared[T any] struct {
	compute ComputeFunc[T]
	opts    Options

	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	last    T
	hasLast bool
	state   State
	cancel  context.CancelFunc
	timer   *time.Timer
	gen     uint64
	starts  int
}

// NewShared creates an idle Shared.
func NewShared[T any](compute ComputeFunc[T], opts Options) *Shared[T] {
	return &Shared[T]{
		compute: compute,
		opts:    opts,
		subs:    make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe adds a subscriber. If a value has been computed it is delivered
// before Subscribe returns.
func (s *Shared[T]) Subscribe() *Subscription[T] {
	sub := newSubscription[T]()
	sub.release = func() { s.unsubscribe(sub) }

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs[sub] = struct{}{}
	metrics.DistributorSubscribers.WithLabelValues(s.opts.Name).Inc()
	if s.hasLast {
		sub.offer(s.last)
	}

	switch s.state {
	case GracePeriod:
		s.stopTimerLocked()
		s.state = Active
	case Idle:
		s.startLocked()
	}
	return sub
}

// Latest returns the last emitted value, if any.
func (s *Shared[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// State returns the current lifecycle state.
func (s *Shared[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Starts returns how many times the computation has been started.
func (s *Shared[T]) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *Shared[T]) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = Active
	s.starts++
	metrics.DistributorActiveComputations.WithLabelValues(s.opts.Name).Inc()

	emit := func(v T) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.last = v
		s.hasLast = true
		for sub := range s.subs {
			sub.offer(v)
		}
	}
	go s.compute(ctx, emit)
}

func (s *Shared[T]) unsubscribe(sub *Subscription[T]) {
	s.mu.Lock()
	if _, ok := s.subs[sub]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub)
	metrics.DistributorSubscribers.WithLabelValues(s.opts.Name).Dec()

	if len(s.subs) > 0 || s.state != Active {
		s.mu.Unlock()
		return
	}

	if s.opts.Grace <= 0 {
		s.teardownLocked()
		s.mu.Unlock()
		s.idle()
		return
	}

	s.state = GracePeriod
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.opts.Grace, func() { s.expire(gen) })
	s.mu.Unlock()
}

func (s *Shared[T]) expire(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != GracePeriod {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()
	s.idle()
}

func (s *Shared[T]) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.timer = nil
	s.state = Idle
	metrics.DistributorActiveComputations.WithLabelValues(s.opts.Name).Dec()
}

func (s *Shared[T]) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Shared[T]) idle() {
	if s.opts.OnIdle != nil {
		s.opts.OnIdle()
	}
}
