//go:build !(linux || darwin || freebsd)

package scheduler

import "errors"

func freeBytes(string) (uint64, error) {
	return 0, errors.New("free storage not supported on this platform")
}
