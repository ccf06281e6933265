package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gormdb "gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"

	"github.com/chenlehua/vnidsd/log"
	"github.com/chenlehua/vnidsd/types"
)

// CleanupThreshold is how many inserts elapse between trim-to-max-events
// passes, per original_source/vnidsd/src/storage.c's
// STORAGE_CLEANUP_THRESHOLD.
const CleanupThreshold = 1000

// DefaultMaxEvents is the retained-row ceiling when unset, per
// original_source/vnidsd/src/storage.c's STORAGE_DEFAULT_MAX_EVENTS.
const DefaultMaxEvents = 100000

// Config describes how to open the durable event store.
type Config struct {
	Driver Driver
	DSN    string
	// MaxEvents bounds the retained row count; rows beyond it are trimmed
	// oldest-first every CleanupThreshold inserts. Zero uses DefaultMaxEvents.
	MaxEvents int
}

// Store persists security events to the embedded relational store named in
// spec.md §4.8 and serves list_events/get_stats style queries. Satisfies
// dispatcher.Storage.
type Store struct {
	db     *gormdb.DB
	logger *log.Logger

	mu        sync.Mutex
	maxEvents int

	insertCount atomic.Uint64
}

// Open connects to the configured backend, runs the schema migration, and
// applies WAL journaling + NORMAL synchronous mode, per spec.md §4.8 and §6.
func Open(cfg Config, logger *log.Logger) (*Store, error) {
	dialector := cfg.Driver.Dialector(cfg.DSN)
	if dialector == nil {
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}

	db, err := gormdb.Open(dialector, &gormdb.Config{Logger: gormlog.Default.LogMode(gormlog.Silent)})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		return nil, fmt.Errorf("storage: set synchronous mode: %w", err)
	}

	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	return &Store{db: db, logger: logger, maxEvents: maxEvents}, nil
}

// Insert persists one event, per spec.md §4.8 and the dispatcher.Storage
// contract. Every CleanupThreshold inserts, trims the table to MaxEvents
// rows, oldest-first.
func (s *Store) Insert(event types.SecurityEvent) error {
	row := fromEvent(event)
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("storage: insert: %w", err)
	}

	if s.insertCount.Add(1)%CleanupThreshold == 0 {
		if err := s.trim(); err != nil && s.logger != nil {
			s.logger.Warn("storage trim failed", map[string]any{"error": err.Error()})
		}
	}
	return nil
}

// trim deletes rows beyond the configured MaxEvents, oldest (lowest id)
// first.
func (s *Store) trim() error {
	s.mu.Lock()
	maxEvents := s.maxEvents
	s.mu.Unlock()

	var total int64
	if err := s.db.Model(&eventRow{}).Count(&total).Error; err != nil {
		return err
	}
	if total <= int64(maxEvents) {
		return nil
	}

	excess := total - int64(maxEvents)
	return s.db.Exec(
		`DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY id ASC LIMIT ?)`,
		excess,
	).Error
}

// QueryRecent returns up to maxN most recent events, newest first, per
// spec.md §4.8.
func (s *Store) QueryRecent(maxN int) ([]types.SecurityEvent, error) {
	return s.queryFiltered(maxN, nil, nil)
}

// Filter narrows list_events queries, per spec.md §4.7's "optional
// severity/since/limit filters".
type Filter struct {
	MinSeverity *types.Severity
	Since       *time.Time
}

// QueryFiltered returns up to maxN most recent events matching filter,
// newest first.
func (s *Store) QueryFiltered(maxN int, filter Filter) ([]types.SecurityEvent, error) {
	return s.queryFiltered(maxN, filter.MinSeverity, filter.Since)
}

func (s *Store) queryFiltered(maxN int, minSeverity *types.Severity, since *time.Time) ([]types.SecurityEvent, error) {
	q := s.db.Model(&eventRow{}).Order("timestamp DESC, id DESC")
	if minSeverity != nil {
		// Severity grade is numerically inverse: "at least as severe as S"
		// means grade <= S's grade.
		q = q.Where("severity <= ?", int(*minSeverity))
	}
	if since != nil {
		q = q.Where("timestamp >= ?", since.Unix())
	}
	if maxN > 0 {
		q = q.Limit(maxN)
	}

	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}

	events := make([]types.SecurityEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

// Count returns the total number of persisted events, per spec.md §4.8.
func (s *Store) Count() (int64, error) {
	var total int64
	if err := s.db.Model(&eventRow{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("storage: count: %w", err)
	}
	return total, nil
}

// SetMaxEvents updates the retained-row ceiling applied by the periodic
// trim, per spec.md §4.8.
func (s *Store) SetMaxEvents(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxEvents = n
	s.mu.Unlock()
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func secUsecToTime(sec, usec int64) time.Time {
	return time.Unix(sec, usec*1000).UTC()
}
