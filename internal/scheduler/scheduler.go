package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

// DefaultConstraintPollInterval is how often unmet constraints are rechecked.
const DefaultConstraintPollInterval = 5 * time.Second

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrUnknownJob is returned when no worker is registered under a name.
	ErrUnknownJob = errors.New("unknown job")
)

// Progress reports completion in percent. Values below the last reported
// value are ignored.
type Progress func(percent int)

// Worker executes one job. It must return ctx.Err() (or an error wrapping
// it) when it stops because ctx was cancelled.
type Worker interface {
	Run(ctx context.Context, input any, progress Progress) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, input any, progress Progress) error

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, input any, progress Progress) error {
	return f(ctx, input, progress)
}

// Request describes one enqueue call. Key defaults to Job.
type Request struct {
	Job         string
	Key         string
	Policy      Policy
	Constraints []Constraint
	Tags        []string
	Input       any
}

// Config holds scheduler settings.
type Config struct {
	ConstraintPollInterval time.Duration
}

type keyQueue struct {
	active  *Handle
	pending []*Handle
}

// latestLive returns the newest execution that has not been cancelled. A
// cancelled execution stays active until its worker returns and must not
// absorb new requests.
func (q *keyQueue) latestLive() *Handle {
	for i := len(q.pending) - 1; i >= 0; i-- {
		if q.pending[i].ctx.Err() == nil {
			return q.pending[i]
		}
	}
	if q.active != nil && q.active.ctx.Err() == nil {
		return q.active
	}
	return nil
}

// Scheduler runs registered workers. Create it with New.
type Scheduler struct {
	pollInterval time.Duration

	mu        sync.Mutex
	workers   map[string]Worker
	queues    map[string]*keyQueue
	observers map[*observer]struct{}
	closed    bool

	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	poll := cfg.ConstraintPollInterval
	if poll <= 0 {
		poll = DefaultConstraintPollInterval
	}
	return &Scheduler{
		pollInterval: poll,
		workers:      make(map[string]Worker),
		queues:       make(map[string]*keyQueue),
		observers:    make(map[*observer]struct{}),
		done:         make(chan struct{}),
	}
}

// Register installs the worker for a job name.
func (s *Scheduler) Register(name string, w Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" || w == nil {
		return errors.New("job name and worker are required")
	}
	if _, exists := s.workers[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	s.workers[name] = w
	return nil
}

// Enqueue schedules an execution according to req.Policy. SchedulingConflicts
// under Keep are coalesced silently: the existing handle is returned. An
// execution that was cancelled but is still winding down is not reused; the
// new one queues behind it.
func (s *Scheduler) Enqueue(req Request) (*Handle, error) {
	key := req.Key
	if key == "" {
		key = req.Job
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.workers[req.Job]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, req.Job)
	}

	metrics.SchedulerEnqueuedTotal.WithLabelValues(req.Job, req.Policy.String()).Inc()

	q := s.queues[key]
	if q == nil {
		q = &keyQueue{}
		s.queues[key] = q
	}

	switch req.Policy {
	case Keep:
		if existing := q.latestLive(); existing != nil {
			metrics.SchedulerCoalescedTotal.WithLabelValues(req.Job).Inc()
			logging.Debug("Job %s already scheduled under key %s, coalescing", req.Job, key)
			return existing, nil
		}
	case Replace:
		for _, h := range slices.Clone(q.pending) {
			s.cancelLocked(h)
		}
		if q.active != nil {
			logging.Info("Replacing execution %s of %s", q.active.id, key)
			q.active.cancel()
		}
	case Append:
	default:
		return nil, fmt.Errorf("unknown policy %d", req.Policy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		s:           s,
		id:          uuid.NewString(),
		job:         req.Job,
		key:         key,
		tags:        slices.Clone(req.Tags),
		input:       req.Input,
		constraints: slices.Clone(req.Constraints),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	h.status = JobStatus{
		ID:      h.id,
		Job:     h.job,
		Key:     key,
		Tags:    h.tags,
		State:   Pending,
		Updated: time.Now(),
	}

	q.pending = append(q.pending, h)
	s.queues[key] = q
	s.publishLocked(h.status)
	s.dispatchLocked(key)

	return h, nil
}

// dispatchLocked starts the head of the key's queue when nothing runs.
func (s *Scheduler) dispatchLocked(key string) {
	q := s.queues[key]
	if q == nil || q.active != nil {
		return
	}
	if len(q.pending) == 0 {
		delete(s.queues, key)
		return
	}

	h := q.pending[0]
	q.pending = q.pending[1:]
	q.active = h
	h.started = true

	s.wg.Add(1)
	go s.execute(h, s.workers[h.job])
}

func (s *Scheduler) execute(h *Handle, w Worker) {
	defer s.wg.Done()

	if err := s.awaitConstraints(h); err != nil {
		s.complete(h, err)
		return
	}

	s.mu.Lock()
	if err := h.ctx.Err(); err != nil {
		s.mu.Unlock()
		s.complete(h, err)
		return
	}
	h.status.State = Running
	h.status.Progress = 0
	h.status.Updated = time.Now()
	s.publishLocked(h.status)
	s.mu.Unlock()

	logging.Debug("Job %s started (key=%s, id=%s)", h.job, h.key, h.id)
	metrics.SchedulerRunning.WithLabelValues(h.job).Inc()
	metrics.JobProgress.WithLabelValues(h.job).Set(0)
	start := time.Now()

	err := s.run(h, w)

	metrics.JobDuration.WithLabelValues(h.job).Observe(time.Since(start).Seconds())
	metrics.SchedulerRunning.WithLabelValues(h.job).Dec()
	s.complete(h, err)
}

func (s *Scheduler) run(h *Handle, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", h.job, r)
		}
	}()
	return w.Run(h.ctx, h.input, func(p int) { s.progress(h, p) })
}

func (s *Scheduler) awaitConstraints(h *Handle) error {
	if err := h.ctx.Err(); err != nil || len(h.constraints) == 0 {
		return err
	}

	var ticker *time.Ticker
	waiting := ""
	for {
		var unmet Constraint
		for _, c := range h.constraints {
			if !c.Satisfied(h.ctx) {
				unmet = c
				break
			}
		}
		if unmet == nil {
			if ticker != nil {
				ticker.Stop()
				logging.Info("Constraints met for job %s (key=%s)", h.job, h.key)
			}
			return h.ctx.Err()
		}

		if unmet.Name() != waiting {
			waiting = unmet.Name()
			metrics.SchedulerConstraintWaits.WithLabelValues(waiting).Inc()
			logging.Info("Job %s (key=%s) waiting for constraint %s", h.job, h.key, waiting)
		}
		if ticker == nil {
			ticker = time.NewTicker(s.pollInterval)
		}

		select {
		case <-h.ctx.Done():
			ticker.Stop()
			return h.ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) progress(h *Handle, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.status.State != Running || percent <= h.status.Progress {
		return
	}
	if percent > 100 {
		percent = 100
	}
	h.status.Progress = percent
	h.status.Updated = time.Now()
	s.publishLocked(h.status)
	metrics.JobProgress.WithLabelValues(h.job).Set(float64(percent))
}

// complete records the result of an execution that was dispatched.
func (s *Scheduler) complete(h *Handle, err error) {
	state := stateFor(err)

	switch state {
	case Succeeded:
		logging.Debug("Job %s succeeded (key=%s, id=%s)", h.job, h.key, h.id)
	case Cancelled:
		logging.Info("Job %s cancelled (key=%s, id=%s)", h.job, h.key, h.id)
	default:
		logging.Error("Job %s failed (key=%s, id=%s): %v", h.job, h.key, h.id, err)
	}
	metrics.JobRunsTotal.WithLabelValues(h.job, strings.ToLower(state.String())).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.finishLocked(h, state, err)
	if q := s.queues[h.key]; q != nil && q.active == h {
		q.active = nil
	}
	s.dispatchLocked(h.key)
}

func (s *Scheduler) finishLocked(h *Handle, state State, err error) {
	if h.status.State.Terminal() {
		return
	}
	h.status.State = state
	if state == Succeeded {
		h.status.Progress = 100
	}
	if err != nil && state == Failed {
		h.status.Error = err.Error()
	}
	h.status.Updated = time.Now()
	s.publishLocked(h.status)
	h.cancel()
	close(h.done)
}

// cancelLocked cancels h. An execution that was never dispatched is removed
// from its queue and finished here; a dispatched one finishes through its
// own goroutine.
func (s *Scheduler) cancelLocked(h *Handle) {
	if h.status.State.Terminal() {
		return
	}
	h.cancel()
	if h.started {
		return
	}

	if q := s.queues[h.key]; q != nil {
		q.pending = slices.DeleteFunc(q.pending, func(p *Handle) bool { return p == h })
	}
	metrics.JobRunsTotal.WithLabelValues(h.job, "cancelled").Inc()
	s.finishLocked(h, Cancelled, context.Canceled)
	s.dispatchLocked(h.key)
}

// CancelByTag cancels every pending or running execution carrying tag and
// returns how many were cancelled.
func (s *Scheduler) CancelByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, h := range s.handlesLocked() {
		if h.hasTag(tag) && !h.status.State.Terminal() {
			s.cancelLocked(h)
			n++
		}
	}
	if n > 0 {
		logging.Info("Cancelled %d job(s) tagged %s", n, tag)
	}
	return n
}

// Active lists the statuses of pending and running executions ordered by key,
// running first within a key.
func (s *Scheduler) Active() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := s.handlesLocked()
	out := make([]JobStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.status)
	}
	return out
}

func (s *Scheduler) handlesLocked() []*Handle {
	keys := make([]string, 0, len(s.queues))
	for k := range s.queues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*Handle
	for _, k := range keys {
		q := s.queues[k]
		if q.active != nil {
			out = append(out, q.active)
		}
		out = append(out, q.pending...)
	}
	return out
}

// Close cancels every execution, waits for running workers to return and
// closes all observer streams after they drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, h := range s.handlesLocked() {
		s.cancelLocked(h)
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.done)
}
