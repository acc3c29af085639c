package scheduler

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"media-gallery/internal/logging"
)

// Constraint gates the start of an execution. An unmet constraint delays the
// start; it never fails the execution.
type Constraint interface {
	Name() string
	Satisfied(ctx context.Context) bool
}

type funcConstraint struct {
	name string
	fn   func(ctx context.Context) bool
}

func (c funcConstraint) Name() string                       { return c.name }
func (c funcConstraint) Satisfied(ctx context.Context) bool { return c.fn(ctx) }

// NewConstraint wraps fn as a named constraint.
func NewConstraint(name string, fn func(ctx context.Context) bool) Constraint {
	return funcConstraint{name: name, fn: fn}
}

// MinFreeStorage is satisfied while the filesystem holding Path has at least
// MinBytes available to unprivileged users.
type MinFreeStorage struct {
	Path     string
	MinBytes uint64
}

// NewMinFreeStorage parses a humanized size such as "500MB" or "2GiB".
func NewMinFreeStorage(path, size string) (*MinFreeStorage, error) {
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum free storage %q: %w", size, err)
	}
	return &MinFreeStorage{Path: path, MinBytes: n}, nil
}

// Name identifies the constraint in logs and metrics.
func (c *MinFreeStorage) Name() string {
	return "storage"
}

// Satisfied checks the free space. A filesystem that cannot be queried does
// not hold jobs back.
func (c *MinFreeStorage) Satisfied(_ context.Context) bool {
	if c.MinBytes == 0 {
		return true
	}
	free, err := freeBytes(c.Path)
	if err != nil {
		logging.Warn("Cannot read free storage for %s: %v", c.Path, err)
		return true
	}
	if free < c.MinBytes {
		logging.Debug("Free storage on %s is %s, need %s", c.Path, humanize.Bytes(free), humanize.Bytes(c.MinBytes))
		return false
	}
	return true
}
