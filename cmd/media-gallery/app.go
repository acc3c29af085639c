package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"media-gallery/internal/database"
	"media-gallery/internal/filesystem"
	"media-gallery/internal/indexer"
	"media-gallery/internal/indexing"
	"media-gallery/internal/logging"
	"media-gallery/internal/media"
	"media-gallery/internal/memory"
	"media-gallery/internal/metrics"
	"media-gallery/internal/scheduler"
	"media-gallery/internal/source"
	"media-gallery/internal/startup"
)

// app holds the components shared by every command.
type app struct {
	config  *startup.Config
	lock    *flock.Flock
	db      *database.Database
	src     *source.DirectorySource
	monitor *memory.Monitor
	sched   *scheduler.Scheduler
	jobs    []indexing.Runner
	coord   *indexer.Coordinator
}

// openApp loads configuration, takes the process lock and builds the
// storage, source, scheduler and indexer. The caller must call close.
func openApp(ctx context.Context) (*app, error) {
	config, err := startup.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	memory.Configure(config.MemoryLimit, config.MemoryRatio)

	lock, err := startup.AcquireLock(config.LockPath)
	if err != nil {
		return nil, err
	}
	a := &app{config: config, lock: lock}

	dbStart := time.Now()
	a.db, err = database.New(ctx, config.DatabasePath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	a.src = source.NewDirectorySource(source.DirectoryConfig{
		Root:    config.MediaDir,
		Workers: config.IndexWorkers,
		Retry:   filesystem.DefaultRetryConfig(),
	})

	media.InitVips()

	oracles, err := buildOracles(config, a.src.AbsPath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.jobs, err = indexing.NewJobs(a.db, oracles, indexing.Options{
		OracleTimeout:    config.OracleTimeout,
		MinProgressDelta: config.ProgressMinDelta,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create index jobs: %w", err)
	}

	a.monitor = memory.NewMonitor(memory.DefaultConfig())
	a.monitor.Start()

	constraints := []scheduler.Constraint{a.monitor}
	if config.MinFreeStorage != "" {
		storage, err := scheduler.NewMinFreeStorage(config.DatabaseDir, config.MinFreeStorage)
		if err != nil {
			a.close()
			return nil, err
		}
		constraints = append(constraints, storage)
	}

	a.sched = scheduler.New(scheduler.Config{ConstraintPollInterval: config.ConstraintPollInterval})
	a.coord, err = indexer.New(a.db, a.src, a.sched, a.jobs, indexer.Config{
		SyncInterval:   config.SyncInterval,
		PollInterval:   config.PollInterval,
		JobConstraints: constraints,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	startup.LogIndexerInit(config.SyncInterval, config.PollInterval, jobNames(a.jobs))

	return a, nil
}

// buildOracles enables the local oracles always and the remote ones when
// their service URL is configured.
func buildOracles(config *startup.Config, resolve media.Resolver) (indexing.Oracles, error) {
	oracles := indexing.Oracles{
		Metadata: media.NewMetadataOracle(resolve),
		Hue:      media.NewHueOracle(resolve),
	}

	if config.ClassifierURL != "" {
		c, err := media.NewRemoteClassifier(media.RemoteConfig{BaseURL: config.ClassifierURL, Timeout: config.OracleTimeout}, resolve)
		if err != nil {
			return oracles, fmt.Errorf("classifier: %w", err)
		}
		oracles.Classification = c
	}
	if config.EmbedderURL != "" {
		e, err := media.NewRemoteEmbedder(media.RemoteConfig{BaseURL: config.EmbedderURL, Timeout: config.OracleTimeout}, resolve)
		if err != nil {
			return oracles, fmt.Errorf("embedder: %w", err)
		}
		oracles.Embedding = e
	}
	return oracles, nil
}

func jobNames(jobs []indexing.Runner) []string {
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// close releases everything openApp acquired. It is safe on a partially
// opened app.
func (a *app) close() {
	if a.sched != nil {
		a.sched.Close()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	media.ShutdownVips()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn("Database close error: %v", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			logging.Warn("Failed to release lock: %v", err)
		}
	}
	if err := logging.Close(); err != nil {
		fmt.Println("Failed to close log file:", err)
	}
}

// waitIdle blocks until no execution is pending or running.
func waitIdle(ctx context.Context, sched *scheduler.Scheduler) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for len(sched.Active()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
