package scheduler

import (
	"context"
	"slices"
)

// Handle refers to one execution. A Keep request that was coalesced returns
// the handle of the execution it was merged into.
type Handle struct {
	s           *Scheduler
	id          string
	job         string
	key         string
	tags        []string
	input       any
	constraints []Constraint

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by s.mu
	status  JobStatus
	started bool
}

// ID returns the unique execution id.
func (h *Handle) ID() string { return h.id }

// Job returns the registered job name.
func (h *Handle) Job() string { return h.job }

// Key returns the unique key.
func (h *Handle) Key() string { return h.key }

// Status returns the current status.
func (h *Handle) Status() JobStatus {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.status
}

// Done is closed when the execution reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the execution ends and returns its final status.
func (h *Handle) Wait(ctx context.Context) (JobStatus, error) {
	select {
	case <-h.done:
		return h.Status(), nil
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

// Cancel requests a cooperative stop. A pending execution ends immediately;
// a running one ends when its worker returns. Terminal executions are
// unaffected.
func (h *Handle) Cancel() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.cancelLocked(h)
}

func (h *Handle) hasTag(tag string) bool {
	return slices.Contains(h.tags, tag)
}
