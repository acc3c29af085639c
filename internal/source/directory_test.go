package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, root, rel string, content string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}
}

func setupLibrary(t *testing.T) (*DirectorySource, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "aaaa", baseTime)
	writeFile(t, root, "Holiday/b.png", "bb", baseTime.Add(time.Hour))
	writeFile(t, root, "Holiday/clip.mp4", "vvvvvv", baseTime.Add(2*time.Hour))
	writeFile(t, root, "Holiday/notes.txt", "ignored", baseTime)
	writeFile(t, root, ".hidden/c.jpg", "hidden", baseTime)
	writeFile(t, root, ".trash/old.jpg", "trash", baseTime)
	return NewDirectorySource(DirectoryConfig{Root: root, Workers: 2}), root
}

func byPath(t *testing.T, src *DirectorySource) map[string]int {
	t.Helper()
	items, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	out := make(map[string]int, len(items))
	for i, it := range items {
		out[it.Path] = i
	}
	return out
}

func TestSnapshotListsMediaOnly(t *testing.T) {
	src, _ := setupLibrary(t)

	items, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	paths := make(map[string]bool)
	for _, it := range items {
		paths[it.Path] = true
	}
	for _, want := range []string{"a.jpg", "Holiday/b.png", "Holiday/clip.mp4", ".trash/old.jpg"} {
		if !paths[want] {
			t.Errorf("Expected %s in snapshot", want)
		}
	}
	for _, unwanted := range []string{"Holiday/notes.txt", ".hidden/c.jpg"} {
		if paths[unwanted] {
			t.Errorf("Did not expect %s in snapshot", unwanted)
		}
	}

	for i := 1; i < len(items); i++ {
		if items[i-1].ID >= items[i].ID {
			t.Errorf("Expected snapshot ordered by id")
		}
	}
}

func TestSnapshotItemFields(t *testing.T) {
	src, _ := setupLibrary(t)
	items, _ := src.Snapshot(context.Background())
	idx := byPath(t, src)

	b := items[idx["Holiday/b.png"]]
	if b.ID != StableID("Holiday/b.png") {
		t.Errorf("Expected stable id, got %d", b.ID)
	}
	if b.AlbumID != StableID("Holiday") || b.AlbumLabel != "Holiday" {
		t.Errorf("Unexpected album %d/%q", b.AlbumID, b.AlbumLabel)
	}
	if b.Timestamp != baseTime.Add(time.Hour).UnixMilli() {
		t.Errorf("Expected timestamp from mtime, got %d", b.Timestamp)
	}
	if b.MimeType != "image/png" || b.Size != 2 || b.Name != "b.png" {
		t.Errorf("Unexpected item %+v", b)
	}

	a := items[idx["a.jpg"]]
	if a.AlbumLabel != RootAlbumLabel {
		t.Errorf("Expected root album label, got %q", a.AlbumLabel)
	}

	old := items[idx[".trash/old.jpg"]]
	if !old.Trashed {
		t.Error("Expected trash item to be flagged")
	}
	if a.Trashed {
		t.Error("Did not expect a.jpg to be trashed")
	}
}

func TestSnapshotFavorites(t *testing.T) {
	src, root := setupLibrary(t)
	writeFile(t, root, "Holiday/.favorites", "b.png\n# comment\n\n", baseTime)

	items, _ := src.Snapshot(context.Background())
	idx := byPath(t, src)

	if !items[idx["Holiday/b.png"]].Favorite {
		t.Error("Expected b.png to be a favorite")
	}
	if items[idx["Holiday/clip.mp4"]].Favorite {
		t.Error("Did not expect clip.mp4 to be a favorite")
	}
}

func TestVersionStableAndSensitive(t *testing.T) {
	src, root := setupLibrary(t)
	ctx := context.Background()

	v1, err := src.Version(ctx)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	v1again, _ := src.Version(ctx)
	if v1 != v1again {
		t.Errorf("Expected stable version, got %q and %q", v1, v1again)
	}

	writeFile(t, root, "Holiday/b.png", "bb", baseTime.Add(3*time.Hour))
	v2, _ := src.Version(ctx)
	if v2 == v1 {
		t.Error("Expected mtime change to change the version")
	}

	writeFile(t, root, "new.gif", "g", baseTime)
	v3, _ := src.Version(ctx)
	if v3 == v2 {
		t.Error("Expected new file to change the version")
	}

	writeFile(t, root, ".favorites", "a.jpg\n", baseTime)
	v4, _ := src.Version(ctx)
	if v4 == v3 {
		t.Error("Expected favorites change to change the version")
	}

	writeFile(t, root, "Holiday/readme.txt", "x", baseTime)
	v5, _ := src.Version(ctx)
	if v5 != v4 {
		t.Error("Expected non-media file not to change the version")
	}
}

func TestMissingRootIsSourceReadError(t *testing.T) {
	src := NewDirectorySource(DirectoryConfig{Root: filepath.Join(t.TempDir(), "missing")})

	_, err := src.Snapshot(context.Background())
	var readErr *SourceReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("Expected SourceReadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped not-exist error, got %v", err)
	}

	if _, err := src.Version(context.Background()); !errors.As(err, &readErr) {
		t.Errorf("Expected SourceReadError from Version, got %v", err)
	}
}

func TestRootIsFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.jpg", "x", baseTime)
	src := NewDirectorySource(DirectoryConfig{Root: filepath.Join(root, "file.jpg")})

	var readErr *SourceReadError
	if _, err := src.Snapshot(context.Background()); !errors.As(err, &readErr) {
		t.Errorf("Expected SourceReadError, got %v", err)
	}
}

func TestSnapshotCancelled(t *testing.T) {
	src, _ := setupLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStableID(t *testing.T) {
	if StableID("a/b.jpg") != StableID("a/b.jpg") {
		t.Error("Expected deterministic ids")
	}
	if StableID("a/b.jpg") == StableID("a/c.jpg") {
		t.Error("Expected distinct ids for distinct paths")
	}
	if StableID("x") < 0 {
		t.Error("Expected non-negative id")
	}
}

func TestSourceReadErrorMessage(t *testing.T) {
	err := &SourceReadError{Op: "stat", Path: "/media", Err: os.ErrPermission}
	if err.Error() != "media source stat /media: permission denied" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
