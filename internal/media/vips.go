package media

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"media-gallery/internal/database"
	"media-gallery/internal/logging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
)

// InitVips initializes the libvips library.
// This should be called once at startup.
func InitVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return
	}

	// Configure vips logging BEFORE Startup() so LOG_LEVEL applies to it
	minLevel := vips.LogLevelWarning
	switch logging.GetLevel() {
	case logging.LevelDebug:
		minLevel = vips.LogLevelInfo
	case logging.LevelWarn:
		minLevel = vips.LogLevelError
	case logging.LevelError:
		minLevel = vips.LogLevelCritical
	}

	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}, minLevel)

	// Header reads only, so keep the cache small
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      16 * 1024 * 1024,
		MaxCacheSize:     32,
	})

	vipsInitialized = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsInitialized
}

// vipsHeader reads dimensions, bands, pages and orientation with libvips.
func vipsHeader(path string) (database.MetadataPayload, error) {
	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return database.MetadataPayload{}, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	return database.MetadataPayload{
		Width:       ref.Width(),
		Height:      ref.Height(),
		Bands:       ref.Bands(),
		Pages:       ref.Pages(),
		Orientation: ref.Orientation(),
		Format:      vips.ImageTypes[ref.Format()],
	}, nil
}
