/*
Package filesystem wraps os.Stat, os.Open and os.ReadDir with retry logic for
NFS stale file handle errors (ESTALE).

Only ESTALE triggers a retry. Every other error is returned on the first
attempt. Retries back off exponentially from InitialBackoff up to MaxBackoff:

	info, err := filesystem.StatWithRetry(root, filesystem.DefaultRetryConfig())

The directory media source uses these helpers for its root check and walk, so
a media library on a flaky NFS mount does not abort a sync pass on the first
stale handle. Retry outcomes are reported through an Observer registered with
SetObserver.
*/
package filesystem
