package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// blockingWorker runs until released or cancelled and records concurrency.
type blockingWorker struct {
	release  chan struct{}
	started  chan any
	runs     atomic.Int32
	running  atomic.Int32
	maxSeen  atomic.Int32
	mu       sync.Mutex
	inputs   []any
	finished []any
}

func newBlockingWorker() *blockingWorker {
	return &blockingWorker{release: make(chan struct{}), started: make(chan any, 16)}
}

func (w *blockingWorker) Run(ctx context.Context, input any, progress Progress) error {
	w.runs.Add(1)
	n := w.running.Add(1)
	defer w.running.Add(-1)
	for {
		m := w.maxSeen.Load()
		if n <= m || w.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	w.mu.Lock()
	w.inputs = append(w.inputs, input)
	w.mu.Unlock()
	w.started <- input

	progress(50)
	select {
	case <-w.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.finished = append(w.finished, input)
	w.mu.Unlock()
	return nil
}

func setupScheduler(t *testing.T, workers map[string]Worker) *Scheduler {
	t.Helper()
	s := New(Config{ConstraintPollInterval: 10 * time.Millisecond})
	for name, w := range workers {
		if err := s.Register(name, w); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	t.Cleanup(s.Close)
	return s
}

func waitStarted(t *testing.T, w *blockingWorker) any {
	t.Helper()
	select {
	case in := <-w.started:
		return in
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for worker to start")
		return nil
	}
}

func waitDone(t *testing.T, h *Handle) JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Timed out waiting for %s: %v", h.Key(), err)
	}
	return st
}

// collect reads statuses until n executions have reached a terminal state.
func collect(t *testing.T, ch <-chan JobStatus, terminals int) []JobStatus {
	t.Helper()
	var out []JobStatus
	timeout := time.After(testTimeout)
	for terminals > 0 {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("Observe channel closed early")
			}
			out = append(out, st)
			if st.State.Terminal() {
				terminals--
			}
		case <-timeout:
			t.Fatalf("Timed out collecting statuses, got %v", out)
		}
	}
	return out
}

func runningTransitions(statuses []JobStatus) map[string]int {
	last := map[string]State{}
	counts := map[string]int{}
	for _, st := range statuses {
		if st.State == Running && last[st.ID] != Running {
			counts[st.ID]++
		}
		last[st.ID] = st.State
	}
	return counts
}

func TestKeepCoalesces(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"media-sync": w})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Observe(ctx, "media-sync")

	first, err := s.Enqueue(Request{Job: "media-sync", Policy: Keep})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitStarted(t, w)

	for i := 0; i < 3; i++ {
		h, err := s.Enqueue(Request{Job: "media-sync", Policy: Keep})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if h.ID() != first.ID() {
			t.Errorf("Expected coalesced handle %s, got %s", first.ID(), h.ID())
		}
	}

	close(w.release)
	st := waitDone(t, first)
	if st.State != Succeeded || st.Progress != 100 {
		t.Errorf("Expected SUCCEEDED at 100, got %s at %d", st.State, st.Progress)
	}

	statuses := collect(t, events, 1)
	counts := runningTransitions(statuses)
	if len(counts) != 1 || counts[first.ID()] != 1 {
		t.Errorf("Expected exactly one RUNNING transition, got %v", counts)
	}
	if got := w.runs.Load(); got != 1 {
		t.Errorf("Expected 1 run, got %d", got)
	}
}

func TestKeepStartsAfterTerminal(t *testing.T) {
	w := newBlockingWorker()
	close(w.release)
	s := setupScheduler(t, map[string]Worker{"job": w})

	a, _ := s.Enqueue(Request{Job: "job", Policy: Keep})
	waitDone(t, a)
	b, _ := s.Enqueue(Request{Job: "job", Policy: Keep})
	waitDone(t, b)

	if a.ID() == b.ID() {
		t.Error("Expected a new execution once the first one ended")
	}
	if got := w.runs.Load(); got != 2 {
		t.Errorf("Expected 2 runs, got %d", got)
	}
}

func TestKeepSkipsCancelledExecution(t *testing.T) {
	started := make(chan struct{}, 1)
	windDown := make(chan struct{})
	var release sync.Once
	var runs atomic.Int32

	worker := WorkerFunc(func(ctx context.Context, _ any, _ Progress) error {
		if runs.Add(1) > 1 {
			return nil
		}
		started <- struct{}{}
		<-ctx.Done()
		<-windDown
		return ctx.Err()
	})
	s := setupScheduler(t, map[string]Worker{"media-sync": worker})
	t.Cleanup(func() { release.Do(func() { close(windDown) }) })

	req := Request{Job: "media-sync", Policy: Keep, Tags: []string{"sync"}}
	first, err := s.Enqueue(req)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for worker to start")
	}

	if n := s.CancelByTag("sync"); n != 1 {
		t.Fatalf("Expected 1 cancelled, got %d", n)
	}

	// The first worker has not returned yet
	second, err := s.Enqueue(req)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if second.ID() == first.ID() {
		t.Fatal("Expected a fresh execution instead of the cancelled one")
	}
	if st := second.Status(); st.State != Pending {
		t.Errorf("Expected the new execution to queue behind, got %s", st.State)
	}
	if third, _ := s.Enqueue(req); third.ID() != second.ID() {
		t.Errorf("Expected coalescing into the live execution %s, got %s", second.ID(), third.ID())
	}

	release.Do(func() { close(windDown) })
	if st := waitDone(t, first); st.State != Cancelled {
		t.Errorf("Expected first CANCELLED, got %s", st.State)
	}
	if st := waitDone(t, second); st.State != Succeeded {
		t.Errorf("Expected second SUCCEEDED, got %s", st.State)
	}
	if got := runs.Load(); got != 2 {
		t.Errorf("Expected 2 runs, got %d", got)
	}
}

func TestForceReplacesIncremental(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"classification": w})

	incremental, _ := s.Enqueue(Request{Job: "classification", Policy: Keep, Input: "incremental"})
	if in := waitStarted(t, w); in != "incremental" {
		t.Fatalf("Expected incremental run, got %v", in)
	}

	force, err := s.Enqueue(Request{Job: "classification", Policy: Replace, Input: "force"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if st := waitDone(t, incremental); st.State != Cancelled {
		t.Errorf("Expected incremental run CANCELLED, got %s", st.State)
	}
	if in := waitStarted(t, w); in != "force" {
		t.Fatalf("Expected force run, got %v", in)
	}

	// An incremental request during the forced run merges into it
	again, _ := s.Enqueue(Request{Job: "classification", Policy: Keep, Input: "incremental"})
	if again.ID() != force.ID() {
		t.Error("Expected incremental request to coalesce into the forced run")
	}

	close(w.release)
	if st := waitDone(t, force); st.State != Succeeded {
		t.Errorf("Expected forced run SUCCEEDED, got %s", st.State)
	}
	if got := w.maxSeen.Load(); got != 1 {
		t.Errorf("Expected at most one running execution, saw %d", got)
	}
	if len(w.finished) != 1 || w.finished[0] != "force" {
		t.Errorf("Expected only the forced run to finish, got %v", w.finished)
	}
}

func TestReplaceCancelsPending(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	running, _ := s.Enqueue(Request{Job: "job", Policy: Keep, Input: 1})
	waitStarted(t, w)
	queued, _ := s.Enqueue(Request{Job: "job", Policy: Append, Input: 2})
	replacement, _ := s.Enqueue(Request{Job: "job", Policy: Replace, Input: 3})

	if st := waitDone(t, queued); st.State != Cancelled {
		t.Errorf("Expected queued execution CANCELLED, got %s", st.State)
	}
	if st := waitDone(t, running); st.State != Cancelled {
		t.Errorf("Expected running execution CANCELLED, got %s", st.State)
	}
	if in := waitStarted(t, w); in != 3 {
		t.Errorf("Expected replacement to run, got %v", in)
	}
	close(w.release)
	waitDone(t, replacement)

	if got := w.runs.Load(); got != 2 {
		t.Errorf("Expected 2 runs, got %d", got)
	}
}

func TestAppendRunsInOrder(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	var handles []*Handle
	for i := 1; i <= 3; i++ {
		h, _ := s.Enqueue(Request{Job: "job", Policy: Append, Input: i})
		handles = append(handles, h)
	}

	if st := handles[1].Status(); st.State != Pending {
		t.Errorf("Expected second execution PENDING, got %s", st.State)
	}

	close(w.release)
	for _, h := range handles {
		if st := waitDone(t, h); st.State != Succeeded {
			t.Errorf("Expected SUCCEEDED, got %s", st.State)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, in := range w.inputs {
		if in != i+1 {
			t.Errorf("Expected run %d to get input %d, got %v", i, i+1, in)
		}
	}
	if got := w.maxSeen.Load(); got != 1 {
		t.Errorf("Expected sequential execution, saw %d concurrent", got)
	}
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	a, _ := s.Enqueue(Request{Job: "job", Key: "a"})
	b, _ := s.Enqueue(Request{Job: "job", Key: "b"})
	waitStarted(t, w)
	waitStarted(t, w)

	close(w.release)
	waitDone(t, a)
	waitDone(t, b)
	if got := w.maxSeen.Load(); got != 2 {
		t.Errorf("Expected both keys to run concurrently, saw %d", got)
	}
}

func TestConstraintDelaysStart(t *testing.T) {
	w := newBlockingWorker()
	close(w.release)
	s := setupScheduler(t, map[string]Worker{"job": w})

	var ok atomic.Bool
	gate := NewConstraint("gate", func(context.Context) bool { return ok.Load() })

	h, _ := s.Enqueue(Request{Job: "job", Constraints: []Constraint{gate}})

	time.Sleep(50 * time.Millisecond)
	if st := h.Status(); st.State != Pending {
		t.Fatalf("Expected PENDING while constraint unmet, got %s", st.State)
	}
	if w.runs.Load() != 0 {
		t.Fatal("Worker ran before constraint was met")
	}

	ok.Store(true)
	if st := waitDone(t, h); st.State != Succeeded {
		t.Errorf("Expected SUCCEEDED, got %s", st.State)
	}
}

func TestCancelWhileWaitingForConstraint(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	never := NewConstraint("never", func(context.Context) bool { return false })
	h, _ := s.Enqueue(Request{Job: "job", Constraints: []Constraint{never}})
	h.Cancel()

	if st := waitDone(t, h); st.State != Cancelled {
		t.Errorf("Expected CANCELLED, got %s", st.State)
	}
	if w.runs.Load() != 0 {
		t.Error("Worker should never have run")
	}
}

func TestCancelByTag(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	finished, _ := s.Enqueue(Request{Job: "job", Key: "done", Tags: []string{"index"}})
	waitStarted(t, w)
	w.release <- struct{}{}
	waitDone(t, finished)

	a, _ := s.Enqueue(Request{Job: "job", Key: "a", Tags: []string{"index"}})
	b, _ := s.Enqueue(Request{Job: "job", Key: "b", Tags: []string{"index", "heavy"}})
	other, _ := s.Enqueue(Request{Job: "job", Key: "c", Tags: []string{"sync"}})
	waitStarted(t, w)
	waitStarted(t, w)
	waitStarted(t, w)

	if n := s.CancelByTag("index"); n != 2 {
		t.Errorf("Expected 2 cancelled, got %d", n)
	}
	for _, h := range []*Handle{a, b} {
		if st := waitDone(t, h); st.State != Cancelled {
			t.Errorf("Expected %s CANCELLED, got %s", h.Key(), st.State)
		}
	}
	if st := finished.Status(); st.State != Succeeded {
		t.Errorf("Terminal execution changed to %s", st.State)
	}
	if st := other.Status(); st.State != Running {
		t.Errorf("Expected untagged execution still RUNNING, got %s", st.State)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		worker WorkerFunc
		want   State
	}{
		{"success", func(context.Context, any, Progress) error { return nil }, Succeeded},
		{"failure", func(context.Context, any, Progress) error { return errors.New("disk full") }, Failed},
		{"cancelled", func(context.Context, any, Progress) error {
			return errors.Join(errors.New("stopped"), context.Canceled)
		}, Cancelled},
		{"panic", func(context.Context, any, Progress) error { panic("boom") }, Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupScheduler(t, map[string]Worker{"job": tt.worker})
			h, err := s.Enqueue(Request{Job: "job"})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
			st := waitDone(t, h)
			if st.State != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, st.State)
			}
			if tt.want == Failed && st.Error == "" {
				t.Error("Expected error message on FAILED status")
			}
		})
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	worker := WorkerFunc(func(_ context.Context, _ any, progress Progress) error {
		for _, p := range []int{10, 40, 30, 40, 90, 150} {
			progress(p)
		}
		return nil
	})
	s := setupScheduler(t, map[string]Worker{"job": worker})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Observe(ctx, "job")

	h, _ := s.Enqueue(Request{Job: "job"})
	statuses := collect(t, events, 1)
	waitDone(t, h)

	last := -1
	for _, st := range statuses {
		if st.State != Running && st.State != Succeeded {
			continue
		}
		if st.Progress < last {
			t.Errorf("Progress went backwards: %v", statuses)
		}
		last = st.Progress
	}
	if final := statuses[len(statuses)-1]; final.State != Succeeded || final.Progress != 100 {
		t.Errorf("Expected final SUCCEEDED at 100, got %+v", final)
	}
}

func TestObserveByTag(t *testing.T) {
	w := newBlockingWorker()
	close(w.release)
	s := setupScheduler(t, map[string]Worker{"job": w})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Observe(ctx, "index")

	h, _ := s.Enqueue(Request{Job: "job", Key: "metadata", Tags: []string{"index"}})
	_, _ = s.Enqueue(Request{Job: "job", Key: "unrelated"})
	statuses := collect(t, events, 1)
	waitDone(t, h)

	for _, st := range statuses {
		if st.Key != "metadata" {
			t.Errorf("Observed unrelated key %s", st.Key)
		}
	}
	if statuses[0].State != Pending {
		t.Errorf("Expected first status PENDING, got %s", statuses[0].State)
	}
}

func TestEnqueueErrors(t *testing.T) {
	s := setupScheduler(t, map[string]Worker{"job": newBlockingWorker()})

	if _, err := s.Enqueue(Request{Job: "missing"}); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}
	if err := s.Register("job", newBlockingWorker()); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	s.Close()
	if _, err := s.Enqueue(Request{Job: "job"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestCloseCancelsRunning(t *testing.T) {
	w := newBlockingWorker()
	s := New(Config{})
	_ = s.Register("job", w)

	h, _ := s.Enqueue(Request{Job: "job"})
	waitStarted(t, w)

	events := s.Observe(context.Background(), "job")
	s.Close()

	if st := h.Status(); st.State != Cancelled {
		t.Errorf("Expected CANCELLED after Close, got %s", st.State)
	}

	var last JobStatus
	for st := range events {
		last = st
	}
	if last.State != Cancelled {
		t.Errorf("Expected observers to drain to CANCELLED, got %s", last.State)
	}
}

func TestActive(t *testing.T) {
	w := newBlockingWorker()
	s := setupScheduler(t, map[string]Worker{"job": w})

	_, _ = s.Enqueue(Request{Job: "job", Key: "b"})
	_, _ = s.Enqueue(Request{Job: "job", Key: "a"})
	_, _ = s.Enqueue(Request{Job: "job", Key: "a", Policy: Append})

	active := s.Active()
	if len(active) != 3 {
		t.Fatalf("Expected 3 active executions, got %d", len(active))
	}
	if active[0].Key != "a" || active[1].Key != "a" || active[2].Key != "b" {
		t.Errorf("Unexpected order: %v", active)
	}
	close(w.release)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{Keep, Replace, Append} {
		got, err := ParsePolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePolicy("drop"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
