package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/cache/migrations"
)

// SQLite is the persistent cache backend. A restarted client starts warm
// instead of refetching every conversation. It implements the same
// best-effort contract as Memory: storage errors degrade to miss/drop.
type SQLite struct {
	db         *sql.DB
	version    string
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time
}

// OpenSQLite opens (or creates) the cache database at path with WAL mode
// and runs pending migrations.
func OpenSQLite(path string, maxEntries int, logger *zap.Logger) (*SQLite, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{
		db:         db,
		version:    SchemaVersion,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Set stores value under key. See Store.Set for eviction semantics.
func (s *SQLite) Set(key string, value []byte) {
	if s.countFor(key) >= s.maxEntries {
		s.evictOldest()
	}
	if s.countFor(key) >= s.maxEntries {
		s.logger.Debug("cache write dropped, store full", zap.String("key", key))
		return
	}

	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, data, stored_at, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			stored_at = excluded.stored_at,
			version = excluded.version`,
		key, value, s.now().UnixMilli(), s.version)
	if err != nil {
		s.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Get returns the value if fresh and version-matched; see Store.Get.
func (s *SQLite) Get(key string, ttl time.Duration) ([]byte, bool) {
	var data []byte
	var storedAt int64
	var version string
	err := s.db.QueryRow(`SELECT data, stored_at, version FROM cache_entries WHERE key = ?`, key).
		Scan(&data, &storedAt, &version)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if version != s.version || s.now().Sub(time.UnixMilli(storedAt)) > ttl {
		s.Remove(key)
		return nil, false
	}
	return data, true
}

// Age returns elapsed time since the entry was stored.
func (s *SQLite) Age(key string) (time.Duration, bool) {
	var storedAt int64
	err := s.db.QueryRow(`SELECT stored_at FROM cache_entries WHERE key = ?`, key).Scan(&storedAt)
	if err != nil {
		return 0, false
	}
	return s.now().Sub(time.UnixMilli(storedAt)), true
}

// Remove deletes a single entry.
func (s *SQLite) Remove(key string) {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		s.logger.Debug("cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear deletes all entries.
func (s *SQLite) Clear() {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		s.logger.Debug("cache clear failed", zap.Error(err))
	}
}

// Len reports the number of stored entries.
func (s *SQLite) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// countFor reports the entry count a write for key would produce, i.e. the
// current count when key is already present.
func (s *SQLite) countFor(key string) int {
	var n, present int
	if err := s.db.QueryRow(`SELECT COUNT(*), COUNT(CASE WHEN key = ? THEN 1 END) FROM cache_entries`, key).Scan(&n, &present); err != nil {
		return 0
	}
	if present > 0 {
		return n - 1
	}
	return n
}

// evictOldest purges the oldest 20% of entries by stored_at, at least one.
func (s *SQLite) evictOldest() {
	n := s.Len() / 5
	if n < 1 {
		n = 1
	}
	_, err := s.db.Exec(`
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY stored_at ASC LIMIT ?
		)`, n)
	if err != nil {
		s.logger.Debug("cache eviction failed", zap.Error(err))
		return
	}
	s.logger.Debug("cache evicted oldest entries", zap.Int("count", n))
}
