package database

import (
	"context"
	"fmt"

	"media-gallery/internal/metrics"
)

// Stats returns row counts for the cache and every index table. It satisfies
// metrics.StatsProvider.
func (d *Database) Stats(ctx context.Context) (metrics.Stats, error) {
	stats := metrics.Stats{IndexRecords: make(map[string]int, len(IndexTables))}

	n, err := d.CountMedia(ctx)
	if err != nil {
		return stats, fmt.Errorf("count media: %w", err)
	}
	stats.MediaItems = n

	for _, table := range IndexTables {
		var count int
		if err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return stats, fmt.Errorf("count %s: %w", table, err)
		}
		stats.IndexRecords[IndexName(table)] = count
	}
	return stats, nil
}

// IndexName strips the table prefix: "index_hue" becomes "hue".
func IndexName(table string) string {
	const prefix = "index_"
	if len(table) > len(prefix) && table[:len(prefix)] == prefix {
		return table[len(prefix):]
	}
	return table
}
