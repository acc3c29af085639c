// Package memory controls Go's runtime memory usage in containerized
// environments and turns memory pressure into a job start constraint.
//
// # Configuration
//
// Call [Configure] early in main, before significant allocations, with the
// container limit (MEMORY_LIMIT, raw bytes or a humanized size such as
// "512MiB") and the share of it reserved for the Go heap (MEMORY_RATIO,
// default 0.85). A GOMEMLIMIT environment variable takes precedence.
//
// # Monitoring
//
// A [Monitor] samples heap usage every CheckInterval. When usage reaches the
// critical watermark it starts holding and triggers a GC; it releases once
// usage drops under the high watermark. [Monitor.Usage] returns the latest
// sample. The monitor implements the scheduler
// constraint interface, so pending jobs wait while memory is critical:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//	sched.Enqueue(scheduler.Request{..., Constraints: []scheduler.Constraint{monitor}})
//
// Running jobs are never interrupted.
package memory
