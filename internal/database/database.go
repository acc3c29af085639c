package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
	"media-gallery/internal/stream"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages all storage for the media gallery.
type Database struct {
	db     *sql.DB
	dbPath string

	// mu serializes writers. Readers go straight to the pool.
	mu sync.Mutex

	writes atomic.Uint64

	changesMu sync.Mutex
	changes   map[string]*stream.Value[uint64]
}

// New opens (or creates) the database FILE at dbPath.
// The parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout keeps concurrent index writers from failing with "database is locked"
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:      db,
		dbPath:  dbPath,
		changes: make(map[string]*stream.Value[uint64]),
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("initialize_schema", start, err) }()

	schema := `
	-- Local mirror of the media source
	CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		album_id INTEGER NOT NULL DEFAULT 0,
		album_label TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		taken_at INTEGER NOT NULL DEFAULT 0,
		favorite INTEGER NOT NULL DEFAULT 0,
		trashed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_media_album ON media(album_id);
	CREATE INDEX IF NOT EXISTS idx_media_timestamp ON media(timestamp);

	-- Key/value metadata, holds the version marker
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	-- Settings
	CREATE TABLE IF NOT EXISTS blacklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		album_id INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT '',
		wildcard INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS pinned_albums (
		album_id INTEGER PRIMARY KEY,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS view_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		sort_field TEXT NOT NULL,
		descending INTEGER NOT NULL,
		hide_blacklisted_in_search INTEGER NOT NULL
	);
	`

	if _, err = d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	for _, table := range IndexTables {
		if _, err = d.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%%s', 'now'))
		)`, table)); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Writes returns the number of rows written since the database was opened.
func (d *Database) Writes() uint64 {
	return d.writes.Load()
}

// Changes returns the change counter for table. The counter is bumped after
// every committed write that touched the table.
func (d *Database) Changes(table string) *stream.Value[uint64] {
	d.changesMu.Lock()
	defer d.changesMu.Unlock()

	v, ok := d.changes[table]
	if !ok {
		v = stream.NewValue[uint64](0)
		d.changes[table] = v
	}
	return v
}

func (d *Database) bump(tables ...string) {
	for _, t := range tables {
		d.Changes(t).Update(func(n uint64) uint64 { return n + 1 })
	}
}

func (d *Database) addWrites(n int64) {
	if n > 0 {
		d.writes.Add(uint64(n))
	}
}

// beginTx starts a write transaction. The caller must hold d.mu and finish
// with endTx.
func (d *Database) beginTx(ctx context.Context) (*sql.Tx, time.Time, error) {
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	return tx, start, err
}

// endTx commits or rolls back a transaction.
func endTx(tx *sql.Tx, start time.Time, err error) error {
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", p, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only! Mode: %v - this will cause write failures", p, info.Mode())
		}
	}

	return nil
}
