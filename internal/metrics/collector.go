package metrics

import (
	"context"
	"sync"
	"time"

	"media-gallery/internal/logging"
)

const collectTimeout = 10 * time.Second

// StatsProvider reports row counts for the cache and derived indexes.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Stats holds the current row counts.
type Stats struct {
	MediaItems   int
	IndexRecords map[string]int
}

// Collector refreshes the row count gauges from a StatsProvider. It collects
// once on Start and then on every interval.
type Collector struct {
	provider StatsProvider
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector. A nil provider makes every collection a no-op.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the collection loop.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			c.collectWithin(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels an in-flight collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.done
	})
}

func (c *Collector) collect() {
	c.collectWithin(context.Background())
}

func (c *Collector) collectWithin(parent context.Context) {
	if c.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, collectTimeout)
	defer cancel()

	stats, err := c.provider.Stats(ctx)
	if err != nil {
		if parent.Err() == nil {
			logging.Warn("Metrics collection failed: %v", err)
		}
		return
	}

	CacheItems.Set(float64(stats.MediaItems))
	for index, count := range stats.IndexRecords {
		IndexRecords.WithLabelValues(index).Set(float64(count))
	}

	logging.Debug("Metrics collected: media=%d, indexes=%v", stats.MediaItems, stats.IndexRecords)
}
