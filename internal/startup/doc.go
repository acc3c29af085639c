// Package startup handles application initialization, configuration loading,
// the single-process lock, and startup/shutdown logging.
//
// # Configuration
//
// Configuration is loaded by [LoadConfig] through viper from environment
// variables and, when CONFIG_FILE names one, a config file in any format viper
// understands (TOML, YAML, JSON). Environment variables take precedence over
// the file. Supported keys:
//
//   - MEDIA_DIR: Path to the media library (default: /media)
//   - DATABASE_DIR: Path to the database directory (default: /database)
//   - PORT: HTTP server port (default: 8080)
//   - SYNC_INTERVAL: Periodic sync interval as Go duration (default: 30m)
//   - POLL_INTERVAL: Version polling interval as Go duration (default: 30s)
//   - WATCH_ENABLED: Watch the library with fsnotify (default: true)
//   - VIEW_GRACE_PERIOD: How long an unobserved view stays alive (default: 5s)
//   - PROGRESS_MIN_DELTA: Minimum progress step reported by index jobs (default: 5)
//   - CONSTRAINT_POLL_INTERVAL: Recheck interval for unmet job constraints (default: 5s)
//   - MIN_FREE_STORAGE: Free space index jobs wait for, e.g. "500MB" (default: none)
//   - CLASSIFIER_URL, EMBEDDER_URL: Model services; unset disables the job
//   - ORACLE_TIMEOUT: Per-item oracle timeout (default: 30s)
//   - DATE_GROUP_LAYOUT, DATE_GROUP_TZ: Timeline header format and zone
//   - INDEX_WORKERS: Directory walk parallelism, 0 picks a default
//   - MEMORY_LIMIT, MEMORY_RATIO: Container limit used to derive GOMEMLIMIT
//   - LOG_LEVEL, LOG_FILE, LOG_MAX_SIZE_MB, LOG_MAX_BACKUPS, LOG_MAX_AGE_DAYS
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - METRICS_ENABLED: Serve /metrics (default: true)
//
// # Single Process
//
// [AcquireLock] takes a file lock next to the database. A second process on
// the same database fails fast with [ErrAlreadyRunning].
//
// # Example Usage
//
//	config, err := startup.LoadConfig()
//	if err != nil {
//	    logging.Fatal("Configuration error: %v", err)
//	}
//	lock, err := startup.AcquireLock(config.LockPath)
//	if err != nil {
//	    logging.Fatal("%v", err)
//	}
//	defer lock.Unlock()
//
//	startup.LogDatabaseInit(dbInitDuration)
//	startup.LogServerStarted(startup.ServerConfig{
//	    Port:            config.Port,
//	    MetricsEnabled:  config.MetricsEnabled,
//	    StartupDuration: time.Since(startTime),
//	})
package startup
