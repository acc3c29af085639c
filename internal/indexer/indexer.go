package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/indexing"
	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
	"media-gallery/internal/scheduler"
	"media-gallery/internal/source"
)

const (
	// JobSync is the scheduler job name and unique key of sync executions.
	JobSync = "media-sync"

	// SyncTag is carried by every sync execution.
	SyncTag = "sync"

	// Default polling interval for change detection
	defaultPollInterval = 30 * time.Second
)

// Config holds the coordinator's trigger settings.
type Config struct {
	// SyncInterval is the period of unconditional sync requests; 0 disables them.
	SyncInterval time.Duration

	// PollInterval is the period of version checks; 0 uses the default.
	PollInterval time.Duration

	// JobConstraints gate the start of dependent index jobs.
	JobConstraints []scheduler.Constraint
}

// SyncResult describes one sync.
type SyncResult struct {
	UpToDate    bool                   `json:"upToDate"`
	Marker      database.VersionMarker `json:"marker"`
	Inserted    int                    `json:"inserted"`
	Updated     int                    `json:"updated"`
	Removed     int                    `json:"removed"`
	IndexPruned int64                  `json:"indexPruned"`
	Scheduled   []string               `json:"scheduled,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// Coordinator synchronizes the cache with a media source.
type Coordinator struct {
	db    *database.Database
	src   source.MediaSource
	sched *scheduler.Scheduler
	jobs  []indexing.Runner
	cfg   Config

	stopChan chan struct{}
	stopOnce sync.Once

	mu                  sync.Mutex
	isSyncing           bool
	lastSyncTime        time.Time
	lastResult          *SyncResult
	lastError           error
	initialSyncComplete bool
	resumeJobs          bool
	startTime           time.Time
}

// New creates a coordinator and registers the sync job and every index job
// with the scheduler.
func New(db *database.Database, src source.MediaSource, sched *scheduler.Scheduler, jobs []indexing.Runner, cfg Config) (*Coordinator, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	c := &Coordinator{
		db:         db,
		src:        src,
		sched:      sched,
		jobs:       jobs,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
		resumeJobs: true,
		startTime:  time.Now(),
	}

	if err := sched.Register(JobSync, c); err != nil {
		return nil, fmt.Errorf("register sync job: %w", err)
	}
	if err := indexing.Register(sched, jobs); err != nil {
		return nil, fmt.Errorf("register index jobs: %w", err)
	}
	return c, nil
}

// Start requests the initial sync and starts the periodic and polling
// triggers.
func (c *Coordinator) Start() {
	logging.Info("Starting initial sync in background...")
	c.RequestSync()

	go c.pollForChanges()

	if c.cfg.SyncInterval > 0 {
		go c.periodicSync()
	}
}

// Stop stops the triggers. Running executions are stopped by closing the
// scheduler.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// Run implements scheduler.Worker.
func (c *Coordinator) Run(ctx context.Context, _ any, progress scheduler.Progress) error {
	_, err := c.sync(ctx, progress)
	return err
}

// RequestSync enqueues a sync unless one is already pending or running. It
// never blocks on the sync itself.
func (c *Coordinator) RequestSync() {
	if _, err := c.sched.Enqueue(scheduler.Request{
		Job:    JobSync,
		Key:    JobSync,
		Policy: scheduler.Keep,
		Tags:   []string{SyncTag},
	}); err != nil && !errors.Is(err, scheduler.ErrClosed) {
		logging.Error("Failed to request sync: %v", err)
	}
}

// SyncAndWait requests a sync and waits for it to end.
func (c *Coordinator) SyncAndWait(ctx context.Context) (scheduler.JobStatus, error) {
	h, err := c.sched.Enqueue(scheduler.Request{
		Job:    JobSync,
		Key:    JobSync,
		Policy: scheduler.Keep,
		Tags:   []string{SyncTag},
	})
	if err != nil {
		return scheduler.JobStatus{}, err
	}
	return h.Wait(ctx)
}

// Sync runs one sync in the calling goroutine.
func (c *Coordinator) Sync(ctx context.Context) (SyncResult, error) {
	return c.sync(ctx, nil)
}

func (c *Coordinator) sync(ctx context.Context, report scheduler.Progress) (SyncResult, error) {
	start := time.Now()
	c.setSyncing(true)
	defer c.setSyncing(false)

	step := func(p int) {
		if report != nil {
			report(p)
		}
	}

	result, err := c.reconcile(ctx, step)
	result.Duration = time.Since(start)
	metrics.SyncDuration.Observe(result.Duration.Seconds())

	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("failed").Inc()
		c.recordFailure(err)
		if errors.Is(err, context.Canceled) {
			return result, err
		}
		return result, fmt.Errorf("sync failed: %w", err)
	}

	if result.UpToDate {
		metrics.SyncRunsTotal.WithLabelValues("up_to_date").Inc()
		logging.Debug("Media cache up to date (marker %s)", shortMarker(result.Marker))
	} else {
		metrics.SyncRunsTotal.WithLabelValues("synced").Inc()
		logging.Info("Sync completed in %v: %d inserted, %d updated, %d removed, %d index records pruned",
			result.Duration.Round(time.Millisecond), result.Inserted, result.Updated, result.Removed, result.IndexPruned)
	}

	// The first sync of a process also resumes jobs interrupted by a restart
	resume := c.takeResume()
	if !result.UpToDate || resume {
		result.Scheduled = c.ScheduleIndexJobs()
	}

	metrics.SyncLastSuccessTimestamp.Set(float64(time.Now().Unix()))
	c.recordSuccess(result)
	step(100)
	return result, nil
}

func (c *Coordinator) reconcile(ctx context.Context, step func(int)) (SyncResult, error) {
	var result SyncResult
	step(0)

	current, err := c.src.Version(ctx)
	if err != nil {
		return result, err
	}
	result.Marker = current

	stored, ok, err := c.db.VersionMarker(ctx)
	if err != nil {
		return result, fmt.Errorf("read version marker: %w", err)
	}
	if ok && stored == current {
		result.UpToDate = true
		return result, nil
	}
	logging.Info("Media source changed (%s -> %s), fetching snapshot", shortMarker(stored), shortMarker(current))
	step(10)

	items, err := c.src.Snapshot(ctx)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	step(50)

	res, err := c.db.Reconcile(ctx, current, items)
	if err != nil {
		return result, fmt.Errorf("reconcile: %w", err)
	}

	result.Inserted = len(res.Inserted)
	result.Updated = len(res.Updated)
	result.Removed = len(res.Removed)
	result.IndexPruned = res.IndexPruned

	metrics.SyncItemsChanged.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.SyncItemsChanged.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.SyncItemsChanged.WithLabelValues("removed").Add(float64(result.Removed))
	metrics.CacheItems.Set(float64(len(items)))

	return result, nil
}

// ScheduleIndexJobs appends an incremental run of every index job and
// returns the names that were scheduled.
func (c *Coordinator) ScheduleIndexJobs() []string {
	var scheduled []string
	for _, j := range c.jobs {
		if _, err := indexing.Enqueue(c.sched, j, false, c.cfg.JobConstraints); err != nil {
			logging.Error("Failed to schedule %s: %v", j.Name(), err)
			continue
		}
		scheduled = append(scheduled, j.Name())
	}
	return scheduled
}

// Reindex schedules one index job. A forced run replaces an in-flight run of
// the same job.
func (c *Coordinator) Reindex(name string, force bool) (*scheduler.Handle, error) {
	j, ok := c.Job(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, name)
	}
	return indexing.Enqueue(c.sched, j, force, c.cfg.JobConstraints)
}

// Job returns the index job with the given name.
func (c *Coordinator) Job(name string) (indexing.Runner, bool) {
	for _, j := range c.jobs {
		if j.Name() == name {
			return j, true
		}
	}
	return nil, false
}

// Jobs returns every index job.
func (c *Coordinator) Jobs() []indexing.Runner {
	return c.jobs
}

// CheckVersion compares the source's version marker with the stored one
// without writing anything.
func (c *Coordinator) CheckVersion(ctx context.Context) (bool, error) {
	metrics.SyncPollChecksTotal.Inc()

	current, err := c.src.Version(ctx)
	if err != nil {
		return false, err
	}
	stored, ok, err := c.db.VersionMarker(ctx)
	if err != nil {
		return false, err
	}
	if ok && stored == current {
		return false, nil
	}
	metrics.SyncPollChangesDetected.Inc()
	return true, nil
}

// pollForChanges periodically compares version markers.
func (c *Coordinator) pollForChanges() {
	// Wait for initial sync to complete
	for !c.IsReady() {
		select {
		case <-time.After(1 * time.Second):
		case <-c.stopChan:
			return
		}
	}

	logging.Info("Starting change detection polling (interval: %v)", c.cfg.PollInterval)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval)
			changed, err := c.CheckVersion(ctx)
			cancel()
			if err != nil {
				logging.Error("Error detecting changes: %v", err)
				continue
			}
			if changed {
				logging.Info("Media source changes detected, requesting sync")
				c.RequestSync()
			}
		case <-c.stopChan:
			logging.Info("Change detection polling stopped")
			return
		}
	}
}

func (c *Coordinator) periodicSync() {
	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logging.Debug("Periodic sync triggered")
			c.RequestSync()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	c.isSyncing = v
	c.mu.Unlock()
}

func (c *Coordinator) takeResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	resume := c.resumeJobs
	c.resumeJobs = false
	return resume
}

func (c *Coordinator) recordSuccess(result SyncResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSyncTime = time.Now()
	c.lastResult = &result
	c.lastError = nil
	c.initialSyncComplete = true
}

func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err

	var readErr *source.SourceReadError
	if errors.As(err, &readErr) {
		logging.Error("Media source unreadable, keeping previous cache: %v", err)
	}
}

// IsReady returns true once a sync has succeeded.
func (c *Coordinator) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialSyncComplete
}

// IsSyncing returns whether a sync is in progress.
func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSyncing
}

// LastSyncTime returns the time of the last successful sync.
func (c *Coordinator) LastSyncTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncTime
}

func shortMarker(m database.VersionMarker) string {
	if m == "" {
		return "none"
	}
	if len(m) > 12 {
		return string(m[:12])
	}
	return string(m)
}
