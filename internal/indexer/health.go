package indexer

import (
	"time"

	"media-gallery/internal/scheduler"
)

// HealthStatus contains health check information.
type HealthStatus struct {
	Ready          bool                  `json:"ready"`
	Syncing        bool                  `json:"syncing"`
	StartTime      time.Time             `json:"startTime"`
	Uptime         string                `json:"uptime"`
	LastSync       time.Time             `json:"lastSync,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
	LastSyncResult *SyncResult           `json:"lastSyncResult,omitempty"`
	Jobs           []scheduler.JobStatus `json:"jobs,omitempty"`
}

// GetHealthStatus returns detailed health information.
func (c *Coordinator) GetHealthStatus() HealthStatus {
	jobs := c.sched.Active()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := HealthStatus{
		Ready:     c.initialSyncComplete,
		Syncing:   c.isSyncing,
		StartTime: c.startTime,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		LastSync:  c.lastSyncTime,
		Jobs:      jobs,
	}
	if c.lastResult != nil {
		r := *c.lastResult
		status.LastSyncResult = &r
	}
	if c.lastError != nil {
		status.LastError = c.lastError.Error()
	}
	return status
}
