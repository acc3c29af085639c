package source

import (
	"context"
	"fmt"

	"media-gallery/internal/database"
)

// MediaSource is the external, mutable media library.
type MediaSource interface {
	// Version returns a token that changes whenever the snapshot would.
	Version(ctx context.Context) (database.VersionMarker, error)
	// Snapshot returns every item currently in the library.
	Snapshot(ctx context.Context) ([]database.MediaItem, error)
}

// SourceReadError reports that the library could not be read.
type SourceReadError struct {
	Op   string
	Path string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("media source %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}
