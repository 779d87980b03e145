package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"emerald_exchange/internal/engine"
	"emerald_exchange/internal/execution"
	"emerald_exchange/internal/infra"
	"emerald_exchange/internal/infra/feed"
	"emerald_exchange/internal/infra/recorder"
	"emerald_exchange/internal/infra/storage"
	"emerald_exchange/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config      *infra.Config
	Storage     *storage.Gateway
	Prices      *engine.Engine
	Limiter     *service.RateLimiter
	Coordinator *service.Coordinator
	Inventory   *execution.PaperInventory
	Ledger      *execution.PaperLedger
	Recorder    *recorder.Recorder
	Feed        *feed.Broadcaster

	feedServer *http.Server
	wg         sync.WaitGroup
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (Config, Storage, Engine)
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping Emerald Exchange...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Storage Gateway (preferred backend + fallback chain)
	b.Storage = storage.NewGateway(cfg.StorageOptions())
	if err := b.Storage.Start(ctx); err != nil {
		return err
	}
	slog.Info("✅ Storage initialized", slog.String("backend", string(b.Storage.ActiveKind())))

	// 4. Pricing Engine
	b.Prices = engine.New(cfg.EngineSettings())
	slog.Info("✅ Pricing engine ready", slog.Bool("dynamic", cfg.DynamicPricing.Enabled))

	// 5. Rate Limiter
	b.Limiter = service.NewRateLimiter(cfg.LimiterConfig())

	// 6. Trade log sink: flat-file recorder on the file backend, SQL
	// trade table otherwise.
	var sink service.TradeSink
	if b.Storage.ActiveKind() == storage.KindYAML {
		b.Recorder = recorder.New(recorder.Options{
			Dir:      cfg.Storage.DataDir,
			FileName: cfg.TransactionLog.File,
			Console:  cfg.TransactionLog.Console,
		})
		sink = b.Recorder
		slog.Info("✅ Transaction recorder started")
	} else {
		sink = b.Storage
	}

	// 7. Settlement Coordinator over paper execution
	b.Inventory = execution.NewPaperInventory(0)
	b.Ledger = execution.NewPaperLedger()
	b.Coordinator = service.NewCoordinator(
		b.Prices, b.Limiter, b.Inventory, b.Ledger, b.Storage, sink, cfg.App.Currency)
	slog.Info("✅ Settlement coordinator ready")

	return nil
}

// Run starts the background loops: price recomputation, limiter sweeps,
// and the optional websocket price feed. Returns immediately; loops
// stop when ctx is done.
func (b *Bootstrap) Run(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Prices.Run(ctx)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Limiter.Run(ctx)
	}()

	if b.Config.Feed.Enabled {
		b.Feed = feed.NewBroadcaster(b.Prices, time.Duration(b.Config.Feed.IntervalSec)*time.Second)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Feed.Run(ctx)
		}()

		mux := http.NewServeMux()
		mux.Handle("/ws/prices", b.Feed)
		b.feedServer = &http.Server{Addr: b.Config.Feed.ListenAddr, Handler: mux}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			slog.Info("📡 Price feed listening", slog.String("addr", b.Config.Feed.ListenAddr))
			if err := b.feedServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Price feed server failed", slog.Any("error", err))
			}
		}()
	}
}

// Shutdown drains the recorder, flushes storage, and waits for the
// background loops.
func (b *Bootstrap) Shutdown(ctx context.Context) {
	if b.feedServer != nil {
		if err := b.feedServer.Shutdown(ctx); err != nil {
			slog.Warn("Feed server shutdown", slog.Any("error", err))
		}
	}
	if b.Recorder != nil {
		if err := b.Recorder.Close(); err != nil {
			slog.Warn("Recorder shutdown", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Shutdown(ctx); err != nil {
			slog.Warn("Storage shutdown", slog.Any("error", err))
		}
	}
	b.wg.Wait()
}
