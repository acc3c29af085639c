package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"

	"media-gallery/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// ErrAlreadyRunning is returned by AcquireLock when another process holds the
// database lock.
var ErrAlreadyRunning = errors.New("another media-gallery process is using this database")

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	MediaDir    string
	DatabaseDir string
	Port        string

	SyncInterval           time.Duration
	PollInterval           time.Duration
	WatchEnabled           bool
	ViewGracePeriod        time.Duration
	ProgressMinDelta       int
	ConstraintPollInterval time.Duration
	MinFreeStorage         string

	ClassifierURL string
	EmbedderURL   string
	OracleTimeout time.Duration

	DateGroupLayout   string
	DateGroupLocation *time.Location

	IndexWorkers int
	MemoryLimit  string
	MemoryRatio  float64

	LogHealthChecks bool
	MetricsEnabled  bool
	Logging         logging.Options

	// Derived paths
	DatabasePath string
	LockPath     string
}

// defaults maps every configuration key to its default value.
var defaults = map[string]any{
	"MEDIA_DIR":                "/media",
	"DATABASE_DIR":             "/database",
	"PORT":                     "8080",
	"SYNC_INTERVAL":            "30m",
	"POLL_INTERVAL":            "30s",
	"WATCH_ENABLED":            true,
	"VIEW_GRACE_PERIOD":        "5s",
	"PROGRESS_MIN_DELTA":       5,
	"CONSTRAINT_POLL_INTERVAL": "5s",
	"MIN_FREE_STORAGE":         "",
	"CLASSIFIER_URL":           "",
	"EMBEDDER_URL":             "",
	"ORACLE_TIMEOUT":           "30s",
	"DATE_GROUP_LAYOUT":        "January 2006",
	"DATE_GROUP_TZ":            "Local",
	"INDEX_WORKERS":            0,
	"MEMORY_LIMIT":             "",
	"MEMORY_RATIO":             0.85,
	"LOG_LEVEL":                "",
	"LOG_FILE":                 "",
	"LOG_MAX_SIZE_MB":          100,
	"LOG_MAX_BACKUPS":          5,
	"LOG_MAX_AGE_DAYS":         28,
	"LOG_HEALTH_CHECKS":        true,
	"METRICS_ENABLED":          true,
}

// newViper returns a viper instance reading environment variables and, when
// CONFIG_FILE is set, that file. Environment variables win over the file.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}
	return v, nil
}

// LoadConfig loads and validates configuration from environment variables
// and the optional CONFIG_FILE.
func LoadConfig() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if level := v.GetString("LOG_LEVEL"); level != "" {
		logging.SetLevel(logging.ParseLevel(level))
	}
	logOpts := logging.Options{
		File:       v.GetString("LOG_FILE"),
		MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
		MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
	}
	logging.Configure(logOpts)

	printBanner()
	logSystemInfo()

	section("CONFIGURATION")
	if file := v.ConfigFileUsed(); file != "" {
		logging.Info("  CONFIG_FILE:              %s", file)
	}

	config := &Config{
		MediaDir:               v.GetString("MEDIA_DIR"),
		DatabaseDir:            v.GetString("DATABASE_DIR"),
		Port:                   v.GetString("PORT"),
		SyncInterval:           duration(v, "SYNC_INTERVAL"),
		PollInterval:           duration(v, "POLL_INTERVAL"),
		WatchEnabled:           v.GetBool("WATCH_ENABLED"),
		ViewGracePeriod:        duration(v, "VIEW_GRACE_PERIOD"),
		ProgressMinDelta:       v.GetInt("PROGRESS_MIN_DELTA"),
		ConstraintPollInterval: duration(v, "CONSTRAINT_POLL_INTERVAL"),
		MinFreeStorage:         v.GetString("MIN_FREE_STORAGE"),
		ClassifierURL:          v.GetString("CLASSIFIER_URL"),
		EmbedderURL:            v.GetString("EMBEDDER_URL"),
		OracleTimeout:          duration(v, "ORACLE_TIMEOUT"),
		DateGroupLayout:        v.GetString("DATE_GROUP_LAYOUT"),
		DateGroupLocation:      location(v.GetString("DATE_GROUP_TZ")),
		IndexWorkers:           v.GetInt("INDEX_WORKERS"),
		MemoryLimit:            v.GetString("MEMORY_LIMIT"),
		MemoryRatio:            v.GetFloat64("MEMORY_RATIO"),
		LogHealthChecks:        v.GetBool("LOG_HEALTH_CHECKS"),
		MetricsEnabled:         v.GetBool("METRICS_ENABLED"),
		Logging:                logOpts,
	}

	if config.MinFreeStorage != "" {
		if _, err := humanize.ParseBytes(config.MinFreeStorage); err != nil {
			return nil, fmt.Errorf("invalid MIN_FREE_STORAGE %q: %w", config.MinFreeStorage, err)
		}
	}
	if config.ProgressMinDelta < 1 {
		logging.Warn("  Invalid PROGRESS_MIN_DELTA %d, using default: 5", config.ProgressMinDelta)
		config.ProgressMinDelta = 5
	}

	logConfig(config)

	section("DIRECTORY SETUP")

	if config.MediaDir, err = filepath.Abs(config.MediaDir); err != nil {
		return nil, fmt.Errorf("failed to resolve media directory path: %w", err)
	}
	logging.Info("  Media directory (absolute): %s", config.MediaDir)

	if config.DatabaseDir, err = filepath.Abs(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	// Media directory problems are reported by the first sync
	if err := ensureDirectory(config.MediaDir, "media"); err != nil {
		logging.Warn("  Media directory issue: %v", err)
	}

	if err := ensureDirectory(config.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	config.DatabasePath = filepath.Join(config.DatabaseDir, "media-gallery.db")
	config.LockPath = config.DatabasePath + ".lock"

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:       ENABLED (required)")
	logging.Info("    Watcher:        %s", enabledString(config.WatchEnabled))
	logging.Info("    Classification: %s", enabledString(config.ClassifierURL != ""))
	logging.Info("    Embedding:      %s", enabledString(config.EmbedderURL != ""))
	logging.Info("    Metrics:        %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func logConfig(c *Config) {
	logging.Info("  MEDIA_DIR:                %s", c.MediaDir)
	logging.Info("  DATABASE_DIR:             %s", c.DatabaseDir)
	logging.Info("  PORT:                     %s", c.Port)
	logging.Info("  SYNC_INTERVAL:            %v", c.SyncInterval)
	logging.Info("  POLL_INTERVAL:            %v", c.PollInterval)
	logging.Info("  WATCH_ENABLED:            %v", c.WatchEnabled)
	logging.Info("  VIEW_GRACE_PERIOD:        %v", c.ViewGracePeriod)
	logging.Info("  PROGRESS_MIN_DELTA:       %d", c.ProgressMinDelta)
	logging.Info("  CONSTRAINT_POLL_INTERVAL: %v", c.ConstraintPollInterval)
	logging.Info("  MIN_FREE_STORAGE:         %s", valueOrNone(c.MinFreeStorage))
	logging.Info("  CLASSIFIER_URL:           %s", valueOrNone(c.ClassifierURL))
	logging.Info("  EMBEDDER_URL:             %s", valueOrNone(c.EmbedderURL))
	logging.Info("  ORACLE_TIMEOUT:           %v", c.OracleTimeout)
	logging.Info("  DATE_GROUP_LAYOUT:        %s", c.DateGroupLayout)
	logging.Info("  DATE_GROUP_TZ:            %s", c.DateGroupLocation)
	logging.Info("  INDEX_WORKERS:            %d", c.IndexWorkers)
	logging.Info("  MEMORY_LIMIT:             %s", valueOrNone(c.MemoryLimit))
	logging.Info("  LOG_LEVEL:                %s", logging.GetLevel())
	logging.Info("  LOG_FILE:                 %s", valueOrNone(c.Logging.File))
	logging.Info("  LOG_HEALTH_CHECKS:        %v", c.LogHealthChecks)
	logging.Info("  METRICS_ENABLED:          %v", c.MetricsEnabled)
}

// section logs a blank line and a ruled heading. Extra args format title.
func section(title string, args ...any) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info(title, args...)
	logging.Info("------------------------------------------------------------")
}

// duration parses key as a Go duration, falling back to the default.
func duration(v *viper.Viper, key string) time.Duration {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err == nil && d >= 0 {
		return d
	}
	def, _ := time.ParseDuration(fmt.Sprint(defaults[key]))
	logging.Warn("  Invalid %s %q, using default: %v", key, raw, def)
	return def
}

func location(name string) *time.Location {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logging.Warn("  Invalid DATE_GROUP_TZ %q, using local time: %v", name, err)
		return time.Local
	}
	return loc
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// AcquireLock takes the single-process lock at path. It fails fast with
// ErrAlreadyRunning if another process holds it.
func AcquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	logging.Debug("  Acquired lock %s", path)
	return lock, nil
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogIndexerInit logs sync coordinator initialization
func LogIndexerInit(syncInterval, pollInterval time.Duration, jobs []string) {
	section("INDEXER INITIALIZATION")
	logging.Info("  Sync interval:  %v", syncInterval)
	logging.Info("  Poll interval:  %v", pollInterval)
	logging.Info("  Index jobs:     %s", strings.Join(jobs, ", "))
	logging.Info("  Starting indexer...")
}

// LogIndexerStarted logs successful indexer start
func LogIndexerStarted() {
	logging.Info("  [OK] Indexer started")
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}
	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.Port)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
    __  ___         ___         ______      ____
   /  |/  /__  ____/ (_)___ _  / ____/___ _/ / /__  _______  __
  / /|_/ / _ \/ __  / / __ '/ / / __/ __ '/ / / _ \/ ___/ / / /
 / /  / /  __/ /_/ / / /_/ / / /_/ / /_/ / / /  __/ /  / /_/ /
/_/  /_/\___/\__,_/_/\__,_/  \____/\__,_/_/_/\___/_/   \__, /
                                                      /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
