package scheduler

import (
	"context"
	"slices"
	"sync"
)

// observer buffers statuses without bound so that a slow reader never loses
// or reorders transitions.
type observer struct {
	match  string
	mu     sync.Mutex
	queue  []JobStatus
	signal chan struct{}
}

func (o *observer) matches(st JobStatus) bool {
	return o.match == "" || st.Key == o.match || slices.Contains(st.Tags, o.match)
}

func (o *observer) push(st JobStatus) {
	o.mu.Lock()
	st.Tags = slices.Clone(st.Tags)
	o.queue = append(o.queue, st)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *observer) pop() (JobStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return JobStatus{}, false
	}
	st := o.queue[0]
	o.queue = o.queue[1:]
	return st, true
}

// Observe streams the status transitions of every execution whose key or
// one of whose tags equals keyOrTag; an empty keyOrTag observes everything.
// The current status of matching executions is delivered first. The channel
// is closed when ctx ends or after the scheduler is closed and drained.
func (s *Scheduler) Observe(ctx context.Context, keyOrTag string) <-chan JobStatus {
	o := &observer{match: keyOrTag, signal: make(chan struct{}, 1)}
	out := make(chan JobStatus)

	s.mu.Lock()
	for _, h := range s.handlesLocked() {
		if o.matches(h.status) {
			o.push(h.status)
		}
	}
	s.observers[o] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.observers, o)
			s.mu.Unlock()
			close(out)
		}()

		for {
			st, ok := o.pop()
			if !ok {
				select {
				case <-o.signal:
					continue
				case <-ctx.Done():
					return
				case <-s.done:
					if st, ok = o.pop(); !ok {
						return
					}
				}
			}

			select {
			case out <- st:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Scheduler) publishLocked(st JobStatus) {
	for o := range s.observers {
		if o.matches(st) {
			o.push(st)
		}
	}
}
