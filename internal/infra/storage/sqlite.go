package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"emerald_exchange/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqliteQueueSize bounds the pending write queue before callers block.
const sqliteQueueSize = 256

// SQLiteStore is the embedded single-file backend (pure Go driver).
// SQLite tolerates exactly one writer, so all mutations funnel through
// a single worker goroutine; reads go straight to the connection.
type SQLiteStore struct {
	path string
	db   *gorm.DB

	jobs      chan func(db *gorm.DB)
	wg        sync.WaitGroup
	available atomic.Bool
	closeMu   sync.RWMutex // orders queue sends against Close
	closeOnce sync.Once
}

// NewSQLiteStore creates a store backed by the given database file.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Kind() Kind      { return KindSQLite }
func (s *SQLiteStore) Available() bool { return s.available.Load() }

// Init opens the database, migrates the schema, and starts the write
// worker.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&domain.AccountStats{}, &domain.TradeRecord{}); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}

	s.db = db
	s.jobs = make(chan func(db *gorm.DB), sqliteQueueSize)
	s.wg.Add(1)
	go s.writeLoop()

	s.available.Store(true)
	slog.Info("sqlite storage initialized", slog.String("file", s.path))
	return nil
}

// writeLoop is the single writer. It drains the queue until the channel
// closes.
func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()
	for job := range s.jobs {
		job(s.db)
	}
}

// submit schedules a write and waits for it, honoring ctx while queued.
// The read lock pins the queue open across the availability check and
// the send, so a concurrent Close cannot close the channel underneath a
// sender.
func (s *SQLiteStore) submit(ctx context.Context, fn func(db *gorm.DB) error) error {
	done := make(chan error, 1)
	job := func(db *gorm.DB) { done <- fn(db) }

	s.closeMu.RLock()
	if !s.available.Load() {
		s.closeMu.RUnlock()
		return domain.ErrStorageClosed
	}
	select {
	case s.jobs <- job:
		s.closeMu.RUnlock()
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) AccountStats(ctx context.Context, accountID string) (*domain.AccountStats, error) {
	var stats domain.AccountStats
	err := s.db.WithContext(ctx).First(&stats, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *SQLiteStore) SaveAccountStats(ctx context.Context, stats *domain.AccountStats) error {
	return s.submit(ctx, func(db *gorm.DB) error {
		return db.Save(stats).Error
	})
}

// IncrementConverted upserts the account's cumulative counter in one
// statement, so concurrent increments cannot lose updates.
func (s *SQLiteStore) IncrementConverted(ctx context.Context, accountID, name string, amount int64) error {
	return s.submit(ctx, func(db *gorm.DB) error {
		row := &domain.AccountStats{
			ID:             accountID,
			Name:           name,
			TotalConverted: amount,
			LastUpdated:    time.Now(),
		}
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"name":            name,
				"total_converted": gorm.Expr("total_converted + ?", amount),
				"last_updated":    time.Now(),
			}),
		}).Create(row).Error
	})
}

func (s *SQLiteStore) TotalConverted(ctx context.Context, accountID string) (int64, error) {
	stats, err := s.AccountStats(ctx, accountID)
	if err != nil || stats == nil {
		return 0, err
	}
	return stats.TotalConverted, nil
}

func (s *SQLiteStore) LogTrade(ctx context.Context, record *domain.TradeRecord) error {
	return s.submit(ctx, func(db *gorm.DB) error {
		return db.Create(record).Error
	})
}

// RecentTrades returns the newest trades for an account, for admin
// inspection.
func (s *SQLiteStore) RecentTrades(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// FlushAll waits for every queued write to land.
func (s *SQLiteStore) FlushAll(ctx context.Context) error {
	return s.submit(ctx, func(db *gorm.DB) error { return nil })
}

// Close drains the write queue and shuts the worker down. Idempotent.
func (s *SQLiteStore) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.available.Store(false)
		if s.jobs != nil {
			close(s.jobs)
		}
		s.closeMu.Unlock()
		if s.jobs != nil {
			s.wg.Wait()
		}
	})
	return nil
}
