package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// counterCompute emits its start count once and then waits for cancellation.
func counterCompute(starts *atomic.Int32, stops *atomic.Int32) ComputeFunc[int] {
	return func(ctx context.Context, emit func(int)) {
		n := starts.Add(1)
		emit(int(n))
		<-ctx.Done()
		if stops != nil {
			stops.Add(1)
		}
	}
}

func recv[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Timed out waiting for value: %v", err)
	}
	return v
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSharedReplaysToLateSubscriber(t *testing.T) {
	var starts atomic.Int32
	s := NewShared(counterCompute(&starts, nil), Options{Name: "test", Grace: time.Minute})

	first := s.Subscribe()
	defer first.Close()
	if got := recv(t, first); got != 1 {
		t.Fatalf("Expected 1, got %d", got)
	}

	late := s.Subscribe()
	defer late.Close()
	select {
	case got := <-late.C():
		if got != 1 {
			t.Errorf("Expected replayed 1, got %d", got)
		}
	default:
		t.Fatal("Expected late subscriber to receive last value synchronously")
	}

	if n := starts.Load(); n != 1 {
		t.Errorf("Expected one computation, got %d", n)
	}
}

func TestSharedGracePeriodKeepsComputation(t *testing.T) {
	var starts, stops atomic.Int32
	s := NewShared(counterCompute(&starts, &stops), Options{Name: "test", Grace: time.Minute})

	sub := s.Subscribe()
	recv(t, sub)
	sub.Close()

	if st := s.State(); st != GracePeriod {
		t.Fatalf("Expected GracePeriod, got %v", st)
	}

	again := s.Subscribe()
	defer again.Close()
	if st := s.State(); st != Active {
		t.Errorf("Expected Active after resubscribe, got %v", st)
	}
	if n := starts.Load(); n != 1 {
		t.Errorf("Expected computation to survive grace period, got %d starts", n)
	}
	if n := stops.Load(); n != 0 {
		t.Errorf("Expected no teardown, got %d", n)
	}
}

func TestSharedTearsDownAfterGrace(t *testing.T) {
	var starts, stops atomic.Int32
	var idled atomic.Int32
	gate := make(chan struct{})
	s := NewShared(func(ctx context.Context, emit func(int)) {
		n := starts.Add(1)
		if n > 1 {
			<-gate
		}
		emit(int(n))
		<-ctx.Done()
		stops.Add(1)
	}, Options{
		Name:   "test",
		Grace:  10 * time.Millisecond,
		OnIdle: func() { idled.Add(1) },
	})

	sub := s.Subscribe()
	recv(t, sub)
	sub.Close()

	eventually(t, func() bool { return s.State() == Idle })
	eventually(t, func() bool { return stops.Load() == 1 })
	if idled.Load() != 1 {
		t.Errorf("Expected OnIdle once, got %d", idled.Load())
	}

	// The stale value is replayed until the new computation emits.
	next := s.Subscribe()
	defer next.Close()
	select {
	case got := <-next.C():
		if got != 1 {
			t.Errorf("Expected stale value 1 first, got %d", got)
		}
	default:
		t.Fatal("Expected stale value to be replayed synchronously")
	}

	close(gate)
	if got := recv(t, next); got != 2 {
		t.Errorf("Expected fresh value 2, got %d", got)
	}
	if s.Starts() != 2 {
		t.Errorf("Expected 2 starts, got %d", s.Starts())
	}
}

func TestSharedZeroGraceTearsDownImmediately(t *testing.T) {
	var starts, stops atomic.Int32
	s := NewShared(counterCompute(&starts, &stops), Options{Name: "test"})

	sub := s.Subscribe()
	recv(t, sub)
	sub.Close()

	if st := s.State(); st != Idle {
		t.Errorf("Expected Idle, got %v", st)
	}
	eventually(t, func() bool { return stops.Load() == 1 })
}

func TestSharedDropsEmitsAfterTeardown(t *testing.T) {
	emitCh := make(chan func(int), 1)
	s := NewShared(func(ctx context.Context, emit func(int)) {
		emitCh <- emit
		<-ctx.Done()
	}, Options{Name: "test"})

	sub := s.Subscribe()
	emit := <-emitCh
	emit(1)
	recv(t, sub)
	sub.Close()

	emit(2)
	if v, _ := s.Latest(); v != 1 {
		t.Errorf("Expected late emit to be dropped, latest = %d", v)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{Idle: "idle", Active: "active", GracePeriod: "grace", State(9): "unknown"}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
