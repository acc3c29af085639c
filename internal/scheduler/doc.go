// Package scheduler runs named background jobs with per-key uniqueness.
//
// Every execution is enqueued under a unique key with one of three policies:
//
//   - [Keep] coalesces the request into an existing pending or running
//     execution of the same key.
//   - [Replace] cancels every execution of the key and queues a fresh one.
//   - [Append] queues the request behind the existing executions.
//
// Regardless of policy at most one execution per key runs at a time.
// Executions may carry constraints that delay their start until satisfied,
// and tags that group them for [Scheduler.CancelByTag]. Status transitions
// are published to observers in order and without loss.
package scheduler
