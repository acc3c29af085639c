package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"
)

// Matches reports whether the rule hides item.
func (r BlacklistRule) Matches(item MediaItem) bool {
	if r.Wildcard {
		ok, err := path.Match(r.Label, item.AlbumLabel)
		return err == nil && ok
	}
	return r.AlbumID != 0 && r.AlbumID == item.AlbumID
}

// AddBlacklistRule stores rule and returns its id.
func (d *Database) AddBlacklistRule(ctx context.Context, rule BlacklistRule) (id int64, err error) {
	start := time.Now()
	defer func() { recordQuery("settings", start, err) }()

	if rule.Wildcard {
		if _, err = path.Match(rule.Label, ""); err != nil {
			return 0, fmt.Errorf("invalid wildcard %q: %w", rule.Label, err)
		}
	} else if rule.AlbumID == 0 {
		return 0, errors.New("blacklist rule needs an album id or a wildcard label")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		"INSERT INTO blacklist (album_id, label, wildcard) VALUES (?, ?, ?)",
		rule.AlbumID, rule.Label, boolToInt(rule.Wildcard))
	if err != nil {
		return 0, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	d.addWrites(1)
	d.bump(TableSettings)
	return id, nil
}

// RemoveBlacklistRule deletes a rule. Removing an unknown id is not an error.
func (d *Database) RemoveBlacklistRule(ctx context.Context, id int64) error {
	return d.settingsExec(ctx, "DELETE FROM blacklist WHERE id = ?", id)
}

// ListBlacklist returns every rule ordered by id.
func (d *Database) ListBlacklist(ctx context.Context) ([]BlacklistRule, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT id, album_id, label, wildcard FROM blacklist ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []BlacklistRule{}
	for rows.Next() {
		var r BlacklistRule
		var wildcard int
		if err := rows.Scan(&r.ID, &r.AlbumID, &r.Label, &wildcard); err != nil {
			return nil, err
		}
		r.Wildcard = wildcard != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// PinAlbum pins an album to the top of the album list.
func (d *Database) PinAlbum(ctx context.Context, albumID int64) error {
	return d.settingsExec(ctx, "INSERT OR IGNORE INTO pinned_albums (album_id) VALUES (?)", albumID)
}

// UnpinAlbum removes a pin.
func (d *Database) UnpinAlbum(ctx context.Context, albumID int64) error {
	return d.settingsExec(ctx, "DELETE FROM pinned_albums WHERE album_id = ?", albumID)
}

// ListPinnedAlbums returns pinned album ids in pin order.
func (d *Database) ListPinnedAlbums(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT album_id FROM pinned_albums ORDER BY created_at, album_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetViewSettings returns the stored view settings or the defaults.
func (d *Database) GetViewSettings(ctx context.Context) (ViewSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s ViewSettings
	var field string
	var desc, hide int
	err := d.db.QueryRowContext(ctx,
		"SELECT sort_field, descending, hide_blacklisted_in_search FROM view_settings WHERE id = 1",
	).Scan(&field, &desc, &hide)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultViewSettings(), nil
	}
	if err != nil {
		return s, err
	}

	s.SortField = SortField(field)
	if !s.SortField.Valid() {
		s.SortField = SortModified
	}
	s.Descending = desc != 0
	s.HideBlacklistedFromSearch = hide != 0
	return s, nil
}

// SetViewSettings replaces the view settings.
func (d *Database) SetViewSettings(ctx context.Context, s ViewSettings) error {
	if !s.SortField.Valid() {
		return fmt.Errorf("invalid sort field %q", s.SortField)
	}
	return d.settingsExec(ctx, `
		INSERT INTO view_settings (id, sort_field, descending, hide_blacklisted_in_search)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sort_field = excluded.sort_field,
			descending = excluded.descending,
			hide_blacklisted_in_search = excluded.hide_blacklisted_in_search
	`, string(s.SortField), boolToInt(s.Descending), boolToInt(s.HideBlacklistedFromSearch))
}

func (d *Database) settingsExec(ctx context.Context, query string, args ...any) (err error) {
	start := time.Now()
	defer func() { recordQuery("settings", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.addWrites(n)
		d.bump(TableSettings)
	}
	return nil
}
