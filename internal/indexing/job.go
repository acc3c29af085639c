package indexing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
	"media-gallery/internal/progress"
	"media-gallery/internal/scheduler"
)

// Oracle computes the payload of one item.
type Oracle[P any] interface {
	Extract(ctx context.Context, item database.MediaItem) (P, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc[P any] func(ctx context.Context, item database.MediaItem) (P, error)

// Extract calls f.
func (f OracleFunc[P]) Extract(ctx context.Context, item database.MediaItem) (P, error) {
	return f(ctx, item)
}

// MediaLister reads the cached media.
type MediaLister interface {
	ListMedia(ctx context.Context) ([]database.MediaItem, error)
	MediaIDs(ctx context.Context) ([]int64, error)
}

// RecordStore is the index table a job writes. *database.IndexStore
// implements it.
type RecordStore[P any] interface {
	Table() string
	Timestamps(ctx context.Context) (map[int64]int64, error)
	Upsert(ctx context.Context, rec database.IndexRecord[P]) error
	Prune(ctx context.Context, keep map[int64]struct{}) (int64, error)
}

// ItemError is the failure of a single item. It never fails a run.
type ItemError struct {
	Job string
	ID  int64
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: item %d: %v", e.Job, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// RunRequest is the input of one run. Force is ignored by jobs that do not
// allow forced reindexing.
type RunRequest struct {
	Force bool `json:"force"`
}

// Result summarizes one run.
type Result struct {
	Total      int           `json:"total"`
	Candidates int           `json:"candidates"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Pruned     int64         `json:"pruned"`
	Forced     bool          `json:"forced"`
	Duration   time.Duration `json:"duration"`
}

// Config describes one job.
type Config[P any] struct {
	Name   string
	Media  MediaLister
	Store  RecordStore[P]
	Oracle Oracle[P]

	// AllowForce enables RunRequest.Force.
	AllowForce bool

	// OracleTimeout bounds each Extract call; 0 means no limit.
	OracleTimeout time.Duration

	// MinProgressDelta is passed to the progress throttler.
	MinProgressDelta int
}

// Job is one index job. It implements scheduler.Worker.
type Job[P any] struct {
	cfg Config[P]

	mu         sync.Mutex
	lastResult *Result
}

// NewJob validates cfg and creates the job.
func NewJob[P any](cfg Config[P]) (*Job[P], error) {
	if cfg.Name == "" {
		return nil, errors.New("job name required")
	}
	if cfg.Media == nil || cfg.Store == nil || cfg.Oracle == nil {
		return nil, fmt.Errorf("job %s: media, store and oracle are required", cfg.Name)
	}
	if cfg.MinProgressDelta <= 0 {
		cfg.MinProgressDelta = progress.DefaultMinDelta
	}
	return &Job[P]{cfg: cfg}, nil
}

// Name returns the job name.
func (j *Job[P]) Name() string {
	return j.cfg.Name
}

// AllowsForce reports whether forced runs are honoured.
func (j *Job[P]) AllowsForce() bool {
	return j.cfg.AllowForce
}

// LastResult returns the result of the last completed or cancelled run.
func (j *Job[P]) LastResult() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastResult == nil {
		return Result{}, false
	}
	return *j.lastResult, true
}

// Run executes the job for the scheduler. input may be nil, a RunRequest or
// a *RunRequest.
func (j *Job[P]) Run(ctx context.Context, input any, report scheduler.Progress) error {
	var req RunRequest
	switch in := input.(type) {
	case nil:
	case RunRequest:
		req = in
	case *RunRequest:
		if in != nil {
			req = *in
		}
	default:
		return fmt.Errorf("job %s: unexpected input %T", j.cfg.Name, input)
	}

	_, err := j.Execute(ctx, req, report)
	return err
}

// Candidates returns the items the next run would process, in ascending id
// order, together with the total number of cached items.
func (j *Job[P]) Candidates(ctx context.Context, force bool) ([]database.MediaItem, int, error) {
	items, err := j.cfg.Media.ListMedia(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list media: %w", err)
	}
	if force && j.cfg.AllowForce {
		return items, len(items), nil
	}

	indexed, err := j.cfg.Store.Timestamps(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s timestamps: %w", j.cfg.Store.Table(), err)
	}

	candidates := make([]database.MediaItem, 0, len(items))
	for _, item := range items {
		if ts, ok := indexed[item.ID]; !ok || ts != item.Timestamp {
			candidates = append(candidates, item)
		}
	}
	return candidates, len(items), nil
}

// Execute performs one run. It returns ctx.Err() when cancelled; item
// failures are counted in Result.Failed and do not produce an error.
func (j *Job[P]) Execute(ctx context.Context, req RunRequest, report func(int)) (Result, error) {
	start := time.Now()
	name := j.cfg.Name
	forced := req.Force && j.cfg.AllowForce

	throttle := progress.NewThrottler(j.cfg.MinProgressDelta)
	deliver := func(p int) {
		if report != nil {
			report(p)
		}
	}

	result := Result{Forced: forced}
	defer func() {
		result.Duration = time.Since(start)
		j.mu.Lock()
		r := result
		j.lastResult = &r
		j.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	candidates, total, err := j.Candidates(ctx, forced)
	if err != nil {
		return result, err
	}
	result.Total = total
	result.Candidates = len(candidates)

	if len(candidates) == 0 {
		logging.Debug("%s: nothing to index (%d items)", name, total)
		throttle.Emit(100, deliver)
		return result, nil
	}

	logging.Info("%s: indexing %d of %d items (force=%v)", name, len(candidates), total, forced)
	throttle.Emit(0, deliver)

	for i, item := range candidates {
		if err := ctx.Err(); err != nil {
			logging.Info("%s: cancelled after %d of %d items", name, i, len(candidates))
			return result, err
		}

		payload, err := j.extract(ctx, item)
		if err == nil {
			err = j.cfg.Store.Upsert(ctx, database.IndexRecord[P]{
				ID:        item.ID,
				Timestamp: item.Timestamp,
				Payload:   payload,
			})
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				return result, fmt.Errorf("store %s record %d: %w", name, item.ID, err)
			}
			metrics.JobItemsProcessed.WithLabelValues(name).Inc()
		} else {
			if ctx.Err() != nil {
				logging.Info("%s: cancelled while processing item %d", name, item.ID)
				return result, ctx.Err()
			}
			itemErr := &ItemError{Job: name, ID: item.ID, Err: err}
			logging.Warn("%v", itemErr)
			metrics.JobItemsFailed.WithLabelValues(name).Inc()
			result.Failed++
		}

		result.Processed++
		throttle.Emit(progress.Percent(i+1, len(candidates)), deliver)
	}

	pruned, err := j.prune(ctx)
	if err != nil {
		return result, err
	}
	result.Pruned = pruned

	throttle.Emit(100, deliver)
	logging.Info("%s: processed %d items (%d failed, %d pruned) in %v",
		name, result.Processed, result.Failed, result.Pruned, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (j *Job[P]) extract(ctx context.Context, item database.MediaItem) (P, error) {
	if j.cfg.OracleTimeout <= 0 {
		return j.cfg.Oracle.Extract(ctx, item)
	}
	itemCtx, cancel := context.WithTimeout(ctx, j.cfg.OracleTimeout)
	defer cancel()
	return j.cfg.Oracle.Extract(itemCtx, item)
}

// prune deletes records of items that are no longer cached.
func (j *Job[P]) prune(ctx context.Context) (int64, error) {
	ids, err := j.cfg.Media.MediaIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list media ids: %w", err)
	}
	keep := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	n, err := j.cfg.Store.Prune(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", j.cfg.Store.Table(), err)
	}
	return n, nil
}
