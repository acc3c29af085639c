/*
Package workers sizes bounded worker pools in containerized environments.

Go sets GOMAXPROCS from the container CPU limit, while runtime.NumCPU still
reports host CPUs. Count and its helpers derive pool sizes from GOMAXPROCS:

	// stat-walking a network share
	n := workers.ForIO(16)

Set INDEX_WORKERS to pin the value regardless of CPU count.
*/
package workers
