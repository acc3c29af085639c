package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

// Config holds memory management configuration
type Config struct {
	// MemoryLimitBytes is the soft memory limit (0 = use GOMEMLIMIT or no limit)
	MemoryLimitBytes int64

	// HighWaterMark is the fraction of the limit below which held jobs are released (0.0-1.0)
	HighWaterMark float64

	// CriticalWaterMark is the fraction at which new jobs are held back (0.0-1.0)
	CriticalWaterMark float64

	// CheckInterval is how often to sample heap usage
	CheckInterval time.Duration
}

// DefaultConfig returns the watermarks used by the server.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Usage is one heap sample relative to the limit.
type Usage struct {
	Alloc int64
	Limit int64
	Ratio float64
}

// Monitor samples heap usage against the limit and implements
// scheduler.Constraint. Once usage reaches the critical watermark the
// monitor holds job starts until usage falls back under the high watermark.
type Monitor struct {
	config Config
	limit  int64
	sample func() uint64

	mu      sync.RWMutex
	last    Usage
	holding bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor. Without an explicit limit it falls back to
// GOMEMLIMIT; with neither the constraint is always satisfied.
func NewMonitor(config Config) *Monitor {
	limit := config.MemoryLimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
			logging.Info("Memory monitor using GOMEMLIMIT: %s", humanize.IBytes(uint64(limit)))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, memory constraint always satisfied")
	}

	return &Monitor{
		config: config,
		limit:  limit,
		sample: heapAlloc,
		done:   make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start samples on CheckInterval until Stop. It does nothing without a limit.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.done:
				return
			}
		}
	}()
}

// Stop ends sampling. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) check() {
	alloc := m.sample()
	u := Usage{Alloc: clampInt64(alloc), Limit: m.limit}
	if m.limit > 0 {
		u.Ratio = float64(alloc) / float64(m.limit)
	}

	m.mu.Lock()
	m.last = u
	changed := m.transition(u.Ratio)
	holding := m.holding
	m.mu.Unlock()

	if m.limit == 0 {
		return
	}
	metrics.MemoryUsageRatio.Set(u.Ratio)
	if !changed {
		return
	}

	if holding {
		logging.Warn("Memory critical (%.1f%% of limit, %s), holding back new jobs", u.Ratio*100, humanize.IBytes(alloc))
		metrics.MemoryPaused.Set(1)
		go runtime.GC()
	} else {
		logging.Info("Memory recovered (%.1f%% of limit), resuming job starts", u.Ratio*100)
		metrics.MemoryPaused.Set(0)
	}
}

// transition applies the watermark hysteresis and reports whether the
// holding state flipped. Callers hold m.mu.
func (m *Monitor) transition(ratio float64) bool {
	if m.limit == 0 {
		return false
	}
	switch {
	case !m.holding && ratio >= m.config.CriticalWaterMark:
		m.holding = true
		return true
	case m.holding && ratio < m.config.HighWaterMark:
		m.holding = false
		return true
	}
	return false
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Name identifies the constraint in logs and metrics.
func (m *Monitor) Name() string {
	return "memory"
}

// Satisfied reports whether memory usage allows a job to start.
func (m *Monitor) Satisfied(_ context.Context) bool {
	return !m.Holding()
}

// Holding reports whether job starts are currently held back.
func (m *Monitor) Holding() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holding
}

// Usage returns the most recent sample.
func (m *Monitor) Usage() Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
