package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"emerald_exchange/internal/domain"
	"emerald_exchange/internal/infra/metrics"
)

const (
	defaultHealthInterval = 30 * time.Second

	legacyStatsFile    = "account_stats.yml"
	migratedStampFile  = ".migrated"
	emergencyCacheFile = "emergency_cache.yml"
)

// backendBox wraps a Backend so atomic.Pointer can hold differing
// concrete implementations behind one type.
type backendBox struct {
	b Backend
}

// Gateway is the storage facade the rest of the system talks to. It
// selects a backend by configured preference with ranked fallback,
// migrates legacy file data into SQL backends once, and monitors the
// networked backend for degradation, redirecting writes into an
// emergency file cache during an outage and flushing it back on
// recovery.
type Gateway struct {
	opts Options

	active    atomic.Pointer[backendBox]
	primary   Backend
	emergency *YAMLStore

	usingEmergency atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewGateway builds a gateway; call Start before use.
func NewGateway(opts Options) *Gateway {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.SQLiteFile == "" {
		opts.SQLiteFile = "exchange.db"
	}
	return &Gateway{opts: opts}
}

// candidates returns backend constructors ordered by fallback rank,
// starting at the preferred backend.
func (g *Gateway) candidates() []Backend {
	all := []Backend{
		NewPostgresStore(g.opts.PostgresDSN, g.opts.PostgresPoolSize),
		NewSQLiteStore(filepath.Join(g.opts.DataDir, g.opts.SQLiteFile)),
		NewYAMLStore(filepath.Join(g.opts.DataDir, legacyStatsFile)),
	}
	sort.SliceStable(all, func(i, j int) bool {
		return distance(g.opts.Preferred, all[i].Kind()) < distance(g.opts.Preferred, all[j].Kind())
	})
	return all
}

// distance orders kinds so the preferred backend comes first and the
// rest follow in fallback rank.
func distance(preferred, k Kind) int {
	if k == preferred {
		return -1
	}
	return k.rank()
}

// Start initializes the first healthy backend in preference order. A
// SQL backend triggers the one-time legacy file migration; postgres
// additionally gets the degradation monitor.
func (g *Gateway) Start(ctx context.Context) error {
	var lastErr error
	for _, b := range g.candidates() {
		if b.Kind() == KindPostgres && g.opts.PostgresDSN == "" {
			continue
		}
		if err := b.Init(ctx); err != nil {
			slog.Warn("storage backend failed to initialize, falling back",
				slog.String("backend", string(b.Kind())), slog.Any("error", err))
			lastErr = err
			continue
		}
		g.primary = b
		g.active.Store(&backendBox{b: b})
		if b.Kind() != g.opts.Preferred {
			slog.Warn("preferred storage backend unavailable, using fallback",
				slog.String("preferred", string(g.opts.Preferred)),
				slog.String("active", string(b.Kind())))
		}
		break
	}
	if g.primary == nil {
		return fmt.Errorf("no storage backend available: %w", lastErr)
	}

	if g.primary.Kind() != KindYAML {
		g.wg.Add(1)
		go g.migrateLegacy()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	if g.primary.Kind() == KindPostgres {
		g.wg.Add(1)
		go g.monitor(runCtx)
	}
	return nil
}

// migrateLegacy moves data from the legacy stats file into the active
// SQL backend, once. A stamp file marks completion; the source file is
// deleted so stale data can never shadow the database.
func (g *Gateway) migrateLegacy() {
	defer g.wg.Done()

	stamp := filepath.Join(g.opts.DataDir, migratedStampFile)
	if _, err := os.Stat(stamp); err == nil {
		return
	}
	src := NewYAMLStore(filepath.Join(g.opts.DataDir, legacyStatsFile))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := src.Init(ctx); err != nil {
		slog.Warn("legacy stats migration skipped", slog.Any("error", err))
		return
	}
	rows := src.All()
	if len(rows) == 0 {
		_ = os.WriteFile(stamp, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644)
		return
	}

	migrated := 0
	for _, st := range rows {
		if err := g.primary.SaveAccountStats(ctx, st); err != nil {
			slog.Error("legacy stats migration aborted",
				slog.String("account", st.ID), slog.Any("error", err))
			return
		}
		migrated++
	}
	if err := src.Remove(); err != nil {
		slog.Warn("failed to remove legacy stats file", slog.Any("error", err))
	}
	_ = os.WriteFile(stamp, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644)
	slog.Info("legacy stats migrated", slog.Int("accounts", migrated),
		slog.String("backend", string(g.primary.Kind())))
}

// monitor polls the networked backend and swaps the emergency cache in
// and out around outages.
func (g *Gateway) monitor(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.healthCheck(ctx)
		}
	}
}

// healthCheck runs one degradation-monitor cycle. Exported to the
// package tests via the gateway itself; safe to call concurrently with
// trade traffic.
func (g *Gateway) healthCheck(ctx context.Context) {
	healthy := g.primary.Available()

	switch {
	case !healthy && !g.usingEmergency.Load():
		cache := NewYAMLStore(filepath.Join(g.opts.DataDir, emergencyCacheFile))
		if err := cache.Init(ctx); err != nil {
			slog.Error("emergency cache activation failed", slog.Any("error", err))
			return
		}
		g.emergency = cache
		g.active.Store(&backendBox{b: cache})
		g.usingEmergency.Store(true)
		metrics.Global.SetEmergencyCache(true)
		slog.Error("storage backend degraded, writes redirected to emergency cache",
			slog.String("backend", string(g.primary.Kind())))

	case healthy && g.usingEmergency.Load():
		g.active.Store(&backendBox{b: g.primary})
		g.usingEmergency.Store(false)
		metrics.Global.SetEmergencyCache(false)
		slog.Info("storage backend recovered")
		g.flushEmergency(ctx)

	case healthy && g.emergency != nil:
		// A previous flush stopped partway; keep retrying each cycle
		// until the cache is empty.
		g.flushEmergency(ctx)
	}
}

// flushEmergency replays cached increments into the recovered backend.
// The cached totals accumulated only while primary was down, so they
// are replayed as increments, not overwrites. Each entry is dropped
// from the cache the moment its replay is acknowledged, so a retry
// after a partial failure applies every increment exactly once.
func (g *Gateway) flushEmergency(ctx context.Context) {
	if g.emergency == nil {
		return
	}
	for _, st := range g.emergency.All() {
		if err := g.primary.IncrementConverted(ctx, st.ID, st.Name, st.TotalConverted); err != nil {
			slog.Error("emergency cache flush incomplete, entry retained",
				slog.String("account", st.ID), slog.Any("error", err))
			return
		}
		if err := g.emergency.Delete(st.ID); err != nil {
			slog.Error("failed to drop flushed cache entry",
				slog.String("account", st.ID), slog.Any("error", err))
			return
		}
	}
	if err := g.emergency.Remove(); err != nil {
		slog.Warn("failed to remove emergency cache file", slog.Any("error", err))
	}
	g.emergency = nil
	slog.Info("emergency cache flushed")
}

// store returns the backend currently receiving traffic.
func (g *Gateway) store() Backend {
	if box := g.active.Load(); box != nil {
		return box.b
	}
	return nil
}

// ActiveKind reports which backend is currently receiving traffic.
func (g *Gateway) ActiveKind() Kind {
	if b := g.store(); b != nil {
		return b.Kind()
	}
	return ""
}

// UsingEmergencyCache reports whether writes are being redirected.
func (g *Gateway) UsingEmergencyCache() bool {
	return g.usingEmergency.Load()
}

func (g *Gateway) AccountStats(ctx context.Context, accountID string) (*domain.AccountStats, error) {
	b := g.store()
	if b == nil {
		return nil, domain.ErrBackendUnavailable
	}
	return b.AccountStats(ctx, accountID)
}

func (g *Gateway) IncrementConverted(ctx context.Context, accountID, name string, amount int64) error {
	b := g.store()
	if b == nil {
		return domain.ErrBackendUnavailable
	}
	return b.IncrementConverted(ctx, accountID, name, amount)
}

func (g *Gateway) TotalConverted(ctx context.Context, accountID string) (int64, error) {
	b := g.store()
	if b == nil {
		return 0, domain.ErrBackendUnavailable
	}
	return b.TotalConverted(ctx, accountID)
}

func (g *Gateway) LogTrade(ctx context.Context, record *domain.TradeRecord) error {
	b := g.store()
	if b == nil {
		return domain.ErrBackendUnavailable
	}
	return b.LogTrade(ctx, record)
}

// Log satisfies the settlement coordinator's trade sink: persist the
// record off the settlement path, best-effort.
func (g *Gateway) Log(record *domain.TradeRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.LogTrade(ctx, record); err != nil {
			metrics.Global.RecordStorageError()
			slog.Warn("failed to persist trade record",
				slog.String("trade", record.ID), slog.Any("error", err))
		}
	}()
}

// Shutdown stops the monitor, flushes pending state, and closes every
// live backend. Idempotent.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	g.closeOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()

		if g.emergency != nil {
			if ferr := g.emergency.Close(ctx); ferr != nil {
				err = ferr
			}
		}
		if g.primary != nil {
			if ferr := g.primary.FlushAll(ctx); ferr != nil && err == nil {
				err = ferr
			}
			if cerr := g.primary.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
		slog.Info("storage gateway shut down")
	})
	return err
}
