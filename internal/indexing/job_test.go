package indexing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/scheduler"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func item(id, ts int64) database.MediaItem {
	return database.MediaItem{ID: id, Timestamp: ts, AlbumID: 1, AlbumLabel: "Camera", MimeType: "image/jpeg"}
}

func reconcile(t *testing.T, db *database.Database, marker database.VersionMarker, items ...database.MediaItem) {
	t.Helper()
	if _, err := db.Reconcile(context.Background(), marker, items); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
}

// fakeOracle labels items by id and fails for the ids in fail.
type fakeOracle struct {
	mu    sync.Mutex
	calls []int64
	fail  map[int64]bool
	hook  func(ctx context.Context, n int)
}

func (o *fakeOracle) Extract(ctx context.Context, it database.MediaItem) (database.ClassificationPayload, error) {
	o.mu.Lock()
	o.calls = append(o.calls, it.ID)
	n := len(o.calls)
	o.mu.Unlock()

	if o.hook != nil {
		o.hook(ctx, n)
	}
	if err := ctx.Err(); err != nil {
		return database.ClassificationPayload{}, err
	}
	if o.fail[it.ID] {
		return database.ClassificationPayload{}, errors.New("model rejected input")
	}
	return database.ClassificationPayload{Label: "cat", Score: float64(it.ID) / 10}, nil
}

func (o *fakeOracle) called() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.calls...)
}

func newClassificationJob(t *testing.T, db *database.Database, oracle Oracle[database.ClassificationPayload]) *Job[database.ClassificationPayload] {
	t.Helper()
	j, err := NewJob(Config[database.ClassificationPayload]{
		Name:             JobClassification,
		Media:            db,
		Store:            db.ClassificationIndex(),
		Oracle:           oracle,
		AllowForce:       true,
		MinProgressDelta: 1,
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	return j
}

func recordIDs(t *testing.T, store *database.IndexStore[database.ClassificationPayload]) []int64 {
	t.Helper()
	recs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	var out []int64
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestItemFailureIsolated(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20), item(3, 30))

	oracle := &fakeOracle{fail: map[int64]bool{2: true}}
	job := newClassificationJob(t, db, oracle)

	res, err := job.Execute(context.Background(), RunRequest{}, nil)
	if err != nil {
		t.Fatalf("Expected run to succeed despite item failure, got %v", err)
	}
	if res.Candidates != 3 || res.Processed != 3 || res.Failed != 1 {
		t.Errorf("Unexpected result %+v", res)
	}
	if got := recordIDs(t, db.ClassificationIndex()); !equalIDs(got, []int64{1, 3}) {
		t.Errorf("Expected records for 1 and 3, got %v", got)
	}

	// The failed item stays a candidate
	candidates, _, err := job.Candidates(context.Background(), false)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != 2 {
		t.Errorf("Expected candidate {2}, got %v", candidates)
	}
}

func TestItemFailureThroughScheduler(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20), item(3, 30))

	job := newClassificationJob(t, db, &fakeOracle{fail: map[int64]bool{2: true}})
	s := scheduler.New(scheduler.Config{})
	defer s.Close()
	if err := Register(s, []Runner{job}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	h, err := Enqueue(s, job, false, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if st.State != scheduler.Succeeded {
		t.Errorf("Expected SUCCEEDED, got %s (%s)", st.State, st.Error)
	}
}

func TestCandidatesAfterSync(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20))

	oracle := &fakeOracle{}
	job := newClassificationJob(t, db, oracle)
	if _, err := job.Execute(context.Background(), RunRequest{}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	reconcile(t, db, "v2", item(2, 20), item(3, 30))

	if got := recordIDs(t, db.ClassificationIndex()); !equalIDs(got, []int64{2}) {
		t.Errorf("Expected record for 1 pruned by sync, got %v", got)
	}

	candidates, total, err := job.Candidates(context.Background(), false)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if total != 2 || len(candidates) != 1 || candidates[0].ID != 3 {
		t.Errorf("Expected candidates {3} of 2, got %v of %d", candidates, total)
	}

	oracle.calls = nil
	if _, err := job.Execute(context.Background(), RunRequest{}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := oracle.called(); !equalIDs(got, []int64{3}) {
		t.Errorf("Expected oracle called for 3 only, got %v", got)
	}
}

func TestTimestampChangeReindexes(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20))

	job := newClassificationJob(t, db, &fakeOracle{})
	if _, err := job.Execute(context.Background(), RunRequest{}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	reconcile(t, db, "v2", item(1, 10), item(2, 25))
	candidates, _, _ := job.Candidates(context.Background(), false)
	if len(candidates) != 1 || candidates[0].ID != 2 {
		t.Errorf("Expected changed item 2 as candidate, got %v", candidates)
	}

	if _, err := job.Execute(context.Background(), RunRequest{}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	rec, ok, err := db.ClassificationIndex().Get(context.Background(), 2)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if rec.Timestamp != 25 {
		t.Errorf("Expected record timestamp 25, got %d", rec.Timestamp)
	}
}

func TestCancelledRunIsResumable(t *testing.T) {
	db := setupTestDB(t)
	var items []database.MediaItem
	for i := int64(1); i <= 5; i++ {
		items = append(items, item(i, i*10))
	}
	reconcile(t, db, "v1", items...)

	// An orphan written outside of sync survives a cancelled run
	store := db.ClassificationIndex()
	if err := store.Upsert(context.Background(), database.IndexRecord[database.ClassificationPayload]{ID: 99, Timestamp: 1}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oracle := &fakeOracle{hook: func(_ context.Context, n int) {
		if n == 2 {
			cancel()
		}
	}}
	job := newClassificationJob(t, db, oracle)

	// The second call sees the cancellation itself, so only item 1 is kept
	_, err := job.Execute(ctx, RunRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := recordIDs(t, store); !equalIDs(got, []int64{1, 99}) {
		t.Errorf("Expected partial results and orphan kept, got %v", got)
	}

	candidates, _, _ := job.Candidates(context.Background(), false)
	if len(candidates) > 5-1 {
		t.Errorf("Expected at most 4 candidates after resume, got %d", len(candidates))
	}

	oracle.hook = nil
	res, err := job.Execute(context.Background(), RunRequest{}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Candidates != 4 || res.Pruned != 1 {
		t.Errorf("Expected 4 candidates and 1 pruned, got %+v", res)
	}
	if got := recordIDs(t, store); !equalIDs(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("Expected all items indexed, got %v", got)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oracle := &fakeOracle{}
	_, err := newClassificationJob(t, db, oracle).Execute(ctx, RunRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(oracle.called()) != 0 {
		t.Error("Oracle should not be called after cancellation")
	}
}

func TestProgressMonotonic(t *testing.T) {
	db := setupTestDB(t)
	var items []database.MediaItem
	for i := int64(1); i <= 7; i++ {
		items = append(items, item(i, i))
	}
	reconcile(t, db, "v1", items...)

	var delivered []int
	job := newClassificationJob(t, db, &fakeOracle{fail: map[int64]bool{4: true}})
	if _, err := job.Execute(context.Background(), RunRequest{}, func(p int) { delivered = append(delivered, p) }); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(delivered) == 0 || delivered[0] != 0 || delivered[len(delivered)-1] != 100 {
		t.Fatalf("Expected progress from 0 to 100, got %v", delivered)
	}
	for i := 1; i < len(delivered); i++ {
		if delivered[i] < delivered[i-1] {
			t.Errorf("Progress decreased: %v", delivered)
		}
	}
}

func TestEmptyCandidateSet(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10))

	oracle := &fakeOracle{}
	job := newClassificationJob(t, db, oracle)
	if _, err := job.Execute(context.Background(), RunRequest{}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	oracle.calls = nil
	writes := db.Writes()

	var delivered []int
	res, err := job.Execute(context.Background(), RunRequest{}, func(p int) { delivered = append(delivered, p) })
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Candidates != 0 || len(oracle.called()) != 0 {
		t.Errorf("Expected a no-op run, got %+v", res)
	}
	if len(delivered) != 1 || delivered[0] != 100 {
		t.Errorf("Expected single 100 progress, got %v", delivered)
	}
	if db.Writes() != writes {
		t.Errorf("Expected no writes, got %d", db.Writes()-writes)
	}
}

func TestForceReindex(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20))

	oracle := &fakeOracle{}
	job := newClassificationJob(t, db, oracle)
	_, _ = job.Execute(context.Background(), RunRequest{}, nil)
	oracle.calls = nil

	res, err := job.Execute(context.Background(), RunRequest{Force: true}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Forced || res.Candidates != 2 {
		t.Errorf("Expected forced run over both items, got %+v", res)
	}

	meta, err := NewJob(Config[database.MetadataPayload]{
		Name:  JobMetadata,
		Media: db,
		Store: db.MetadataIndex(),
		Oracle: OracleFunc[database.MetadataPayload](func(context.Context, database.MediaItem) (database.MetadataPayload, error) {
			return database.MetadataPayload{Width: 1}, nil
		}),
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	_, _ = meta.Execute(context.Background(), RunRequest{}, nil)
	res, _ = meta.Execute(context.Background(), RunRequest{Force: true}, nil)
	if res.Forced || res.Candidates != 0 {
		t.Errorf("Expected metadata job to ignore force, got %+v", res)
	}
}

func TestOracleTimeoutIsItemError(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10), item(2, 20))

	oracle := &fakeOracle{hook: func(ctx context.Context, n int) {
		if n == 1 {
			<-ctx.Done()
		}
	}}
	job, _ := NewJob(Config[database.ClassificationPayload]{
		Name:          JobClassification,
		Media:         db,
		Store:         db.ClassificationIndex(),
		Oracle:        oracle,
		OracleTimeout: 20 * time.Millisecond,
	})

	res, err := job.Execute(context.Background(), RunRequest{}, nil)
	if err != nil {
		t.Fatalf("Expected timeout to be isolated, got %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Expected 1 failed item, got %+v", res)
	}
	if got := recordIDs(t, db.ClassificationIndex()); !equalIDs(got, []int64{2}) {
		t.Errorf("Expected record for 2 only, got %v", got)
	}
}

func TestRunInput(t *testing.T) {
	db := setupTestDB(t)
	reconcile(t, db, "v1", item(1, 10))
	job := newClassificationJob(t, db, &fakeOracle{})

	for _, in := range []any{nil, RunRequest{Force: true}, &RunRequest{}} {
		if err := job.Run(context.Background(), in, func(int) {}); err != nil {
			t.Errorf("Run(%T) failed: %v", in, err)
		}
	}
	if err := job.Run(context.Background(), "force", nil); err == nil {
		t.Error("Expected error for unexpected input")
	}

	if res, ok := job.LastResult(); !ok || res.Total != 1 {
		t.Errorf("Expected last result to be recorded, got %+v %v", res, ok)
	}
}

func TestNewJobsSkipsMissingOracles(t *testing.T) {
	db := setupTestDB(t)

	runners, err := NewJobs(db, Oracles{
		Metadata: OracleFunc[database.MetadataPayload](func(context.Context, database.MediaItem) (database.MetadataPayload, error) {
			return database.MetadataPayload{}, nil
		}),
		Classification: &fakeOracle{},
	}, Options{})
	if err != nil {
		t.Fatalf("NewJobs failed: %v", err)
	}
	if len(runners) != 2 || runners[0].Name() != JobMetadata || runners[1].Name() != JobClassification {
		t.Fatalf("Unexpected runners %v", runners)
	}
	if runners[0].AllowsForce() || !runners[1].AllowsForce() {
		t.Error("Only classification should allow force")
	}

	if _, err := NewJob(Config[database.HuePayload]{Name: JobHue}); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}
