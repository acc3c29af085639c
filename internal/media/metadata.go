package media

import (
	"context"
	"fmt"
	"image"

	// Image format decoders for the DecodeConfig fallback
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"media-gallery/internal/database"
	"media-gallery/internal/filesystem"
	"media-gallery/internal/logging"
	"media-gallery/internal/mediatypes"
)

// Resolver maps an item's relative path to a file on disk.
type Resolver func(rel string) string

// MetadataOracle extracts technical metadata.
type MetadataOracle struct {
	resolve Resolver
	retry   filesystem.RetryConfig
}

// NewMetadataOracle creates a metadata oracle.
func NewMetadataOracle(resolve Resolver) *MetadataOracle {
	return &MetadataOracle{resolve: resolve, retry: filesystem.DefaultRetryConfig()}
}

// Extract reads the header of item's file.
func (o *MetadataOracle) Extract(ctx context.Context, item database.MediaItem) (database.MetadataPayload, error) {
	if err := ctx.Err(); err != nil {
		return database.MetadataPayload{}, err
	}

	base := database.MetadataPayload{Size: item.Size, MimeType: item.MimeType}
	if !mediatypes.IsImageMime(item.MimeType) {
		return base, nil
	}

	path := o.resolve(item.Path)

	var p database.MetadataPayload
	var err error
	if IsVipsAvailable() {
		p, err = vipsHeader(path)
		if err != nil {
			logging.Debug("vips header failed for %s: %v, trying DecodeConfig", item.Path, err)
			p, err = o.decodeConfig(path)
		}
	} else {
		p, err = o.decodeConfig(path)
	}
	if err != nil {
		return database.MetadataPayload{}, err
	}

	p.Size = base.Size
	p.MimeType = base.MimeType
	return p, nil
}

func (o *MetadataOracle) decodeConfig(path string) (database.MetadataPayload, error) {
	file, err := filesystem.OpenWithRetry(path, o.retry)
	if err != nil {
		return database.MetadataPayload{}, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return database.MetadataPayload{}, fmt.Errorf("decode image header: %w", err)
	}

	return database.MetadataPayload{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Pages:  1,
	}, nil
}
