package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"emerald_exchange/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPoolSize = 8
	pingTimeout     = 3 * time.Second
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS account_stats (
	id              VARCHAR(36) PRIMARY KEY,
	name            VARCHAR(64) NOT NULL,
	total_converted BIGINT NOT NULL DEFAULT 0,
	last_updated    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_account_stats_name ON account_stats (name);

CREATE TABLE IF NOT EXISTS trades (
	id         VARCHAR(32) PRIMARY KEY,
	account_id VARCHAR(36) NOT NULL,
	name       VARCHAR(64) NOT NULL,
	direction  VARCHAR(8) NOT NULL,
	quantity   BIGINT NOT NULL,
	amount     DECIMAL(10,2) NOT NULL,
	unit_price DECIMAL(10,2) NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades (account_id);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp);
`

// PostgresStore is the networked pooled backend. Writes run on a
// bounded worker pool over pgxpool; Available drives the gateway's
// degradation monitor via a short connection ping.
type PostgresStore struct {
	dsn      string
	poolSize int
	pool     *pgxpool.Pool

	jobs      chan func(ctx context.Context, pool *pgxpool.Pool)
	wg        sync.WaitGroup
	inflight  sync.WaitGroup // queued or executing writes
	available atomic.Bool
	closeMu   sync.RWMutex // orders queue sends against Close
	closeOnce sync.Once
}

// NewPostgresStore creates a store for the given DSN. poolSize <= 0
// selects the default.
func NewPostgresStore(dsn string, poolSize int) *PostgresStore {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &PostgresStore{dsn: dsn, poolSize: poolSize}
}

func (s *PostgresStore) Kind() Kind { return KindPostgres }

// Available pings the pool with a short deadline. Cheap enough for the
// 30s degradation monitor; never blocks the trade path.
func (s *PostgresStore) Available() bool {
	if !s.available.Load() || s.pool == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return s.pool.Ping(ctx) == nil
}

// Init connects the pool, applies the schema, and starts the workers.
func (s *PostgresStore) Init(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.MaxConns = int32(s.poolSize)
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return fmt.Errorf("apply postgres schema: %w", err)
	}

	s.pool = pool
	s.jobs = make(chan func(ctx context.Context, pool *pgxpool.Pool), s.poolSize*4)
	for i := 0; i < s.poolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.available.Store(true)
	slog.Info("postgres storage initialized", slog.Int("pool_size", s.poolSize))
	return nil
}

func (s *PostgresStore) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		job(ctx, s.pool)
		cancel()
	}
}

// submit schedules a write and waits for its result. The read lock pins
// the queue open across the availability check and the send, so a
// concurrent Close cannot close the channel underneath a sender.
func (s *PostgresStore) submit(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	done := make(chan error, 1)
	job := func(jobCtx context.Context, pool *pgxpool.Pool) {
		defer s.inflight.Done()
		done <- fn(jobCtx, pool)
	}

	s.closeMu.RLock()
	if !s.available.Load() {
		s.closeMu.RUnlock()
		return domain.ErrBackendUnavailable
	}
	s.inflight.Add(1)
	select {
	case s.jobs <- job:
		s.closeMu.RUnlock()
	case <-ctx.Done():
		s.inflight.Done()
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

func (s *PostgresStore) AccountStats(ctx context.Context, accountID string) (*domain.AccountStats, error) {
	var stats domain.AccountStats
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, total_converted, last_updated FROM account_stats WHERE id = $1`,
		accountID,
	).Scan(&stats.ID, &stats.Name, &stats.TotalConverted, &stats.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *PostgresStore) SaveAccountStats(ctx context.Context, stats *domain.AccountStats) error {
	return s.submit(ctx, func(jobCtx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(jobCtx,
			`INSERT INTO account_stats (id, name, total_converted, last_updated)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   total_converted = EXCLUDED.total_converted,
			   last_updated = EXCLUDED.last_updated`,
			stats.ID, stats.Name, stats.TotalConverted, stats.LastUpdated)
		return err
	})
}

// IncrementConverted upserts the cumulative counter server-side, so
// concurrent increments from any number of workers cannot lose updates.
func (s *PostgresStore) IncrementConverted(ctx context.Context, accountID, name string, amount int64) error {
	return s.submit(ctx, func(jobCtx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(jobCtx,
			`INSERT INTO account_stats (id, name, total_converted, last_updated)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   total_converted = account_stats.total_converted + EXCLUDED.total_converted,
			   last_updated = now()`,
			accountID, name, amount)
		return err
	})
}

func (s *PostgresStore) TotalConverted(ctx context.Context, accountID string) (int64, error) {
	stats, err := s.AccountStats(ctx, accountID)
	if err != nil || stats == nil {
		return 0, err
	}
	return stats.TotalConverted, nil
}

func (s *PostgresStore) LogTrade(ctx context.Context, record *domain.TradeRecord) error {
	return s.submit(ctx, func(jobCtx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(jobCtx,
			`INSERT INTO trades (id, account_id, name, direction, quantity, amount, unit_price, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			record.ID, record.AccountID, record.AccountName, string(record.Direction),
			record.Quantity, record.Amount, record.UnitPrice, record.Timestamp)
		return err
	})
}

// FlushAll waits until every write issued so far has completed on every
// worker. Callers stop issuing writes before flushing (the shutdown
// path), so the wait is not racing new arrivals.
func (s *PostgresStore) FlushAll(ctx context.Context) error {
	settled := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(settled)
	}()
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, stops the workers, and closes the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
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
		if s.pool != nil {
			s.pool.Close()
		}
	})
	return nil
}
