package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"media-gallery/internal/metrics"
	"media-gallery/internal/stream"
)

// IndexStore reads and writes one derived index table. Each index job is the
// only writer of its store.
type IndexStore[P any] struct {
	d     *Database
	table string
}

// NewIndexStore returns the store for table, which must be one of IndexTables.
func NewIndexStore[P any](d *Database, table string) (*IndexStore[P], error) {
	if !slices.Contains(IndexTables, table) {
		return nil, fmt.Errorf("unknown index table %q", table)
	}
	return &IndexStore[P]{d: d, table: table}, nil
}

func mustIndexStore[P any](d *Database, table string) *IndexStore[P] {
	s, err := NewIndexStore[P](d, table)
	if err != nil {
		panic(err)
	}
	return s
}

// MetadataIndex returns the technical metadata store.
func (d *Database) MetadataIndex() *IndexStore[MetadataPayload] {
	return mustIndexStore[MetadataPayload](d, TableMetadataIndex)
}

// ClassificationIndex returns the classification label store.
func (d *Database) ClassificationIndex() *IndexStore[ClassificationPayload] {
	return mustIndexStore[ClassificationPayload](d, TableClassification)
}

// HueIndex returns the hue code store.
func (d *Database) HueIndex() *IndexStore[HuePayload] {
	return mustIndexStore[HuePayload](d, TableHue)
}

// EmbeddingIndex returns the embedding vector store.
func (d *Database) EmbeddingIndex() *IndexStore[EmbeddingPayload] {
	return mustIndexStore[EmbeddingPayload](d, TableEmbedding)
}

// Table returns the table name.
func (s *IndexStore[P]) Table() string {
	return s.table
}

// Changes returns the change counter of the table.
func (s *IndexStore[P]) Changes() *stream.Value[uint64] {
	return s.d.Changes(s.table)
}

// Timestamps maps every record id to the item timestamp it was computed from.
func (s *IndexStore[P]) Timestamps(ctx context.Context) (out map[int64]int64, err error) {
	start := time.Now()
	defer func() { recordQuery("index_timestamps", start, err) }()

	rows, err := s.d.db.QueryContext(ctx, fmt.Sprintf("SELECT id, timestamp FROM %s", s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make(map[int64]int64)
	for rows.Next() {
		var id, ts int64
		if err = rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = ts
	}
	err = rows.Err()
	return out, err
}

// Get returns the record for id.
func (s *IndexStore[P]) Get(ctx context.Context, id int64) (IndexRecord[P], bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rec IndexRecord[P]
	var payload string
	err := s.d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, timestamp, payload FROM %s WHERE id = ?", s.table), id,
	).Scan(&rec.ID, &rec.Timestamp, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return rec, false, fmt.Errorf("decode %s payload for %d: %w", s.table, id, err)
	}
	return rec, true, nil
}

// All returns every record ordered by id.
func (s *IndexStore[P]) All(ctx context.Context) (records []IndexRecord[P], err error) {
	start := time.Now()
	defer func() { recordQuery("index_all", start, err) }()

	rows, err := s.d.db.QueryContext(ctx, fmt.Sprintf("SELECT id, timestamp, payload FROM %s ORDER BY id", s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec IndexRecord[P]
		var payload string
		if err = rows.Scan(&rec.ID, &rec.Timestamp, &payload); err != nil {
			return nil, err
		}
		if err = json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode %s payload for %d: %w", s.table, rec.ID, err)
		}
		records = append(records, rec)
	}
	err = rows.Err()
	return records, err
}

// Upsert stores rec, replacing any earlier record for the same id.
func (s *IndexStore[P]) Upsert(ctx context.Context, rec IndexRecord[P]) (err error) {
	start := time.Now()
	defer func() { recordQuery("index_upsert", start, err) }()

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload for %d: %w", s.table, rec.ID, err)
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.d.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, timestamp, payload, updated_at)
		VALUES (?, ?, ?, strftime('%%s', 'now'))
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, s.table), rec.ID, rec.Timestamp, string(payload))
	if err != nil {
		return err
	}

	s.d.addWrites(1)
	s.d.bump(s.table)
	return nil
}

// Prune deletes every record whose id is not in keep and returns how many
// were deleted.
func (s *IndexStore[P]) Prune(ctx context.Context, keep map[int64]struct{}) (removed int64, err error) {
	start := time.Now()
	defer func() { recordQuery("index_prune", start, err) }()

	existing, err := s.Timestamps(ctx)
	if err != nil {
		return 0, err
	}

	var stale []int64
	for id := range existing {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	slices.Sort(stale)

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	tx, txStart, err := s.d.beginTx(ctx)
	if err != nil {
		return 0, err
	}

	err = func() error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range stale {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return fmt.Errorf("prune %s record %d: %w", s.table, id, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	}()

	if err = endTx(tx, txStart, err); err != nil {
		return 0, err
	}

	s.d.addWrites(removed)
	metrics.DBRowsAffected.WithLabelValues("index_prune").Add(float64(removed))
	if removed > 0 {
		s.d.bump(s.table)
	}
	return removed, nil
}

// Count returns the number of records.
func (s *IndexStore[P]) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := s.d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n)
	return n, err
}
