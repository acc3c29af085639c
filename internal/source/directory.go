package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-gallery/internal/database"
	"media-gallery/internal/filesystem"
	"media-gallery/internal/logging"
	"media-gallery/internal/mediatypes"
	"media-gallery/internal/workers"
)

const (
	// DefaultTrashDir is the top-level directory whose contents are trashed.
	DefaultTrashDir = ".trash"
	// FavoritesFile lists favorite file names, one per line, per directory.
	FavoritesFile = ".favorites"
	// RootAlbumLabel labels files directly under the root.
	RootAlbumLabel = "Media"
)

// DirectoryConfig configures a DirectorySource.
type DirectoryConfig struct {
	Root string
	// TrashDir is relative to Root. Empty means DefaultTrashDir.
	TrashDir string
	// Workers bounds concurrent directory reads. Zero picks an IO default.
	Workers int
	Retry   filesystem.RetryConfig
}

// DirectorySource reads the media library from a directory tree.
type DirectorySource struct {
	root     string
	trashDir string
	workers  int
	retry    filesystem.RetryConfig
}

// NewDirectorySource creates a source for cfg.Root.
func NewDirectorySource(cfg DirectoryConfig) *DirectorySource {
	trash := cfg.TrashDir
	if trash == "" {
		trash = DefaultTrashDir
	}
	n := cfg.Workers
	if n <= 0 {
		n = workers.ForIO(8)
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = filesystem.DefaultRetryConfig()
	}
	return &DirectorySource{
		root:     cfg.Root,
		trashDir: trash,
		workers:  n,
		retry:    retry,
	}
}

// Root returns the library root.
func (s *DirectorySource) Root() string {
	return s.root
}

// TrashDir returns the trash directory relative to the root.
func (s *DirectorySource) TrashDir() string {
	return s.trashDir
}

type fileEntry struct {
	rel     string // slash separated, relative to root
	modTime time.Time
	size    int64
}

type listing struct {
	files     []fileEntry
	favorites map[string]string // dir rel -> raw .favorites content
}

// Version hashes the sorted (path, mtime, size) listing and every .favorites
// file. It only stats files.
func (s *DirectorySource) Version(ctx context.Context) (database.VersionMarker, error) {
	l, err := s.list(ctx)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, f := range l.files {
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", f.rel, f.modTime.UnixNano(), f.size)
	}
	dirs := make([]string, 0, len(l.favorites))
	for dir := range l.favorites {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		fmt.Fprintf(h, "fav\x00%s\x00%s\n", dir, l.favorites[dir])
	}
	return database.VersionMarker(hex.EncodeToString(h.Sum(nil))), nil
}

// Snapshot returns every media file under the root ordered by id.
func (s *DirectorySource) Snapshot(ctx context.Context) ([]database.MediaItem, error) {
	l, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	favorites := make(map[string]map[string]bool, len(l.favorites))
	for dir, raw := range l.favorites {
		favorites[dir] = parseFavorites(raw)
	}

	items := make([]database.MediaItem, 0, len(l.files))
	for _, f := range l.files {
		dir, name := path.Split(f.rel)
		dir = strings.TrimSuffix(dir, "/")
		ts := f.modTime.UnixMilli()

		albumLabel := RootAlbumLabel
		if dir != "" {
			albumLabel = path.Base(dir)
		}

		items = append(items, database.MediaItem{
			ID:         StableID(f.rel),
			Timestamp:  ts,
			AlbumID:    StableID(dir),
			AlbumLabel: albumLabel,
			Name:       name,
			Path:       f.rel,
			MimeType:   mediatypes.MimeType(name),
			Size:       f.size,
			TakenAt:    ts,
			Favorite:   favorites[dir][name],
			Trashed:    s.inTrash(f.rel),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// StableID derives a non-negative id from a slash separated relative path.
// The root directory ("") has its own id.
func StableID(rel string) int64 {
	h := fnv.New64a()
	h.Write([]byte(rel))
	return int64(h.Sum64() & math.MaxInt64)
}

// AbsPath resolves a relative item path against the root.
func (s *DirectorySource) AbsPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *DirectorySource) inTrash(rel string) bool {
	return rel == s.trashDir || strings.HasPrefix(rel, s.trashDir+"/")
}

func parseFavorites(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = true
	}
	return out
}

func (s *DirectorySource) list(ctx context.Context) (*listing, error) {
	start := time.Now()

	info, err := filesystem.StatWithRetry(s.root, s.retry)
	if err != nil {
		return nil, &SourceReadError{Op: "stat", Path: s.root, Err: err}
	}
	if !info.IsDir() {
		return nil, &SourceReadError{Op: "stat", Path: s.root, Err: errors.New("not a directory")}
	}

	rootEntries, err := filesystem.ReadDirWithRetry(s.root, s.retry)
	if err != nil {
		return nil, &SourceReadError{Op: "readdir", Path: s.root, Err: err}
	}

	l := &listing{favorites: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var visit func(rel string, entries []os.DirEntry) error
	visit = func(rel string, entries []os.DirEntry) error {
		for _, e := range entries {
			if err := gctx.Err(); err != nil {
				return err
			}

			name := e.Name()
			childRel := name
			if rel != "" {
				childRel = rel + "/" + name
			}

			if name == FavoritesFile && !e.IsDir() {
				data, err := os.ReadFile(s.AbsPath(childRel))
				if err != nil {
					logging.Warn("Skipping unreadable %s: %v", childRel, err)
					continue
				}
				mu.Lock()
				l.favorites[rel] = string(data)
				mu.Unlock()
				continue
			}

			if strings.HasPrefix(name, ".") && childRel != s.trashDir {
				continue
			}

			if e.IsDir() {
				dirRel := childRel
				task := func() error {
					children, err := filesystem.ReadDirWithRetry(s.AbsPath(dirRel), s.retry)
					if err != nil {
						logging.Warn("Skipping unreadable directory %s: %v", dirRel, err)
						return nil
					}
					return visit(dirRel, children)
				}
				// Run inline when the pool is full so recursion cannot deadlock.
				if !g.TryGo(task) {
					if err := task(); err != nil {
						return err
					}
				}
				continue
			}

			if !e.Type().IsRegular() || mediatypes.KindOf(name) == mediatypes.KindOther {
				continue
			}

			fi, err := e.Info()
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					logging.Warn("Skipping %s: %v", childRel, err)
				}
				continue
			}

			mu.Lock()
			l.files = append(l.files, fileEntry{rel: childRel, modTime: fi.ModTime(), size: fi.Size()})
			mu.Unlock()
		}
		return nil
	}

	g.Go(func() error { return visit("", rootEntries) })
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &SourceReadError{Op: "walk", Path: s.root, Err: err}
	}

	sort.Slice(l.files, func(i, j int) bool { return l.files[i].rel < l.files[j].rel })

	logging.Debug("Listed %d media files under %s in %v", len(l.files), s.root, time.Since(start))
	return l, nil
}
