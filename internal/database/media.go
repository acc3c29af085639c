package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

const versionMarkerKey = "version_marker"

const mediaColumns = `id, timestamp, album_id, album_label, name, path, mime_type, size, taken_at, favorite, trashed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaItem(row rowScanner) (MediaItem, error) {
	var m MediaItem
	var favorite, trashed int
	err := row.Scan(&m.ID, &m.Timestamp, &m.AlbumID, &m.AlbumLabel, &m.Name, &m.Path,
		&m.MimeType, &m.Size, &m.TakenAt, &favorite, &trashed)
	m.Favorite = favorite != 0
	m.Trashed = trashed != 0
	return m, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// VersionMarker returns the marker stored by the last successful Reconcile.
// ok is false if no sync has completed yet.
func (d *Database) VersionMarker(ctx context.Context) (marker VersionMarker, ok bool, err error) {
	start := time.Now()
	defer func() { recordQuery("version_marker", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err = d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", versionMarkerKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return VersionMarker(value), true, nil
}

// Reconcile makes the media table equal to items and stores marker, all in a
// single transaction. Only new or changed rows are written. Rows and index
// records whose id is not in items are deleted. If items holds duplicate ids
// the last one wins.
func (d *Database) Reconcile(ctx context.Context, marker VersionMarker, items []MediaItem) (result ReconcileResult, err error) {
	start := time.Now()
	defer func() { recordQuery("reconcile", start, err) }()

	snapshot := make(map[int64]MediaItem, len(items))
	for _, item := range items {
		snapshot[item.ID] = item
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, txStart, err := d.beginTx(ctx)
	if err != nil {
		return result, fmt.Errorf("begin reconcile: %w", err)
	}

	var written int64
	var indexTouched []string
	err = func() error {
		cached, err := loadMedia(ctx, tx)
		if err != nil {
			return fmt.Errorf("load cached media: %w", err)
		}

		upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO media (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			album_id = excluded.album_id,
			album_label = excluded.album_label,
			name = excluded.name,
			path = excluded.path,
			mime_type = excluded.mime_type,
			size = excluded.size,
			taken_at = excluded.taken_at,
			favorite = excluded.favorite,
			trashed = excluded.trashed
		`)
		if err != nil {
			return err
		}
		defer upsert.Close()

		for _, id := range sortedIDs(snapshot) {
			item := snapshot[id]
			old, exists := cached[id]
			if exists && old == item {
				continue
			}
			if _, err := upsert.ExecContext(ctx, item.ID, item.Timestamp, item.AlbumID, item.AlbumLabel,
				item.Name, item.Path, item.MimeType, item.Size, item.TakenAt,
				boolToInt(item.Favorite), boolToInt(item.Trashed)); err != nil {
				return fmt.Errorf("upsert media %d: %w", id, err)
			}
			written++
			if exists {
				result.Updated = append(result.Updated, id)
			} else {
				result.Inserted = append(result.Inserted, id)
			}
		}

		del, err := tx.PrepareContext(ctx, "DELETE FROM media WHERE id = ?")
		if err != nil {
			return err
		}
		defer del.Close()

		for _, id := range sortedIDs(cached) {
			if _, keep := snapshot[id]; keep {
				continue
			}
			if _, err := del.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete media %d: %w", id, err)
			}
			written++
			result.Removed = append(result.Removed, id)
		}

		// The media table now holds exactly the snapshot id-set.
		for _, table := range IndexTables {
			res, err := tx.ExecContext(ctx, fmt.Sprintf(
				"DELETE FROM %s WHERE id NOT IN (SELECT id FROM media)", table))
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.IndexPruned += n
				written += n
				indexTouched = append(indexTouched, table)
			}
		}

		var current string
		err = tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", versionMarkerKey).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if errors.Is(err, sql.ErrNoRows) || VersionMarker(current) != marker {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO metadata (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, versionMarkerKey, string(marker)); err != nil {
				return fmt.Errorf("store version marker: %w", err)
			}
			written++
			result.MarkerChanged = true
		}
		return nil
	}()

	if err = endTx(tx, txStart, err); err != nil {
		return ReconcileResult{}, err
	}

	d.addWrites(written)
	metrics.DBRowsAffected.WithLabelValues("reconcile").Add(float64(written))

	if result.Changed() {
		d.bump(TableMedia)
	}
	if result.MarkerChanged {
		d.bump(TableMarker)
	}
	d.bump(indexTouched...)

	logging.Debug("Reconcile committed: %d inserted, %d updated, %d removed, %d index records pruned",
		len(result.Inserted), len(result.Updated), len(result.Removed), result.IndexPruned)

	return result, nil
}

func loadMedia(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}) (map[int64]MediaItem, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+mediaColumns+" FROM media")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]MediaItem)
	for rows.Next() {
		m, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func sortedIDs(m map[int64]MediaItem) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListMedia returns every cached item ordered by id.
func (d *Database) ListMedia(ctx context.Context) (items []MediaItem, err error) {
	start := time.Now()
	defer func() { recordQuery("list_media", start, err) }()

	rows, err := d.db.QueryContext(ctx, "SELECT "+mediaColumns+" FROM media ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, scanErr := scanMediaItem(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		items = append(items, m)
	}
	err = rows.Err()
	return items, err
}

// GetMedia returns a single cached item.
func (d *Database) GetMedia(ctx context.Context, id int64) (MediaItem, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id)
	m, err := scanMediaItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MediaItem{}, false, nil
	}
	if err != nil {
		return MediaItem{}, false, err
	}
	return m, true, nil
}

// MediaIDs returns every cached id in ascending order.
func (d *Database) MediaIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM media ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMedia returns the number of cached items.
func (d *Database) CountMedia(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media").Scan(&n)
	return n, err
}
