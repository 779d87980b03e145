package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"emerald_exchange/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	// ewmaAlpha weights recent window volume against the running average.
	ewmaAlpha = 0.3
	// maxRecoveryBonus is how much the depletion factor can recover over
	// the configured recovery period.
	maxRecoveryBonus = 0.5
)

// Settings is the pricing configuration snapshot the engine runs on.
//
// Price naming is from the trader's perspective throughout:
// buy price = what the trader PAYS to acquire units from the service,
// sell price = what the trader RECEIVES when liquidating units.
type Settings struct {
	Enabled           bool
	BaseBuy           float64
	BaseSell          float64
	MinPrice          float64
	MaxPrice          float64
	Window            time.Duration
	UpdateInterval    time.Duration
	DemandSensitivity float64
	SupplySensitivity float64
	DepletionRate     float64
	RecoveryPeriod    time.Duration
	MaxImpact         int64
	TaxRate           float64
}

type tradeSample struct {
	dir      domain.Direction
	quantity int64
	price    float64
	at       time.Time
}

// Engine maintains the live buy/sell price pair. Trades feed pressure
// into a time-windowed queue; a fixed timer recomputes prices from
// EWMA-smoothed demand/supply and a resource-depletion factor.
//
// Invariant, enforced after every recompute: buy price >= sell price, so
// a buy-then-sell round trip can never profit.
type Engine struct {
	mu  sync.RWMutex
	cfg Settings

	curBuy  float64
	curSell float64

	recent     []tradeSample
	demandEWMA float64
	supplyEWMA float64

	totalConverted int64
	depletion      float64

	startedAt time.Time
	now       func() time.Time
}

// New creates an engine with current prices initialized to the base
// prices. Settings are assumed validated at config-load time.
func New(cfg Settings) *Engine {
	e := &Engine{now: time.Now}
	e.startedAt = e.now()
	e.apply(cfg)
	return e
}

func (e *Engine) apply(cfg Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.curBuy = cfg.BaseBuy
	e.curSell = cfg.BaseSell
	e.depletion = 1.0
}

// Reload replaces the configuration and resets current prices to the new
// base prices. Pressure state (EWMA, window, cumulative volume) survives.
func (e *Engine) Reload(cfg Settings) {
	e.apply(cfg)
	slog.Info("pricing configuration reloaded",
		slog.Bool("dynamic", cfg.Enabled),
		slog.Float64("base_buy", cfg.BaseBuy),
		slog.Float64("base_sell", cfg.BaseSell))
}

// SetBasePrices updates the operator-configured floor prices and snaps
// the current prices to them; the next recompute cycle re-applies
// pressure on top.
func (e *Engine) SetBasePrices(buy, sell float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BaseBuy = buy
	e.cfg.BaseSell = sell
	e.curBuy = buy
	e.curSell = sell
}

// RecordTrade ingests a settled trade. The quantity counted toward price
// pressure is capped at MaxImpact to blunt single-actor manipulation;
// the cumulative depletion counter takes the uncapped quantity, since
// depletion models true volume. Never fails; in-memory only.
func (e *Engine) RecordTrade(dir domain.Direction, quantity int64, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled {
		return
	}

	capped := quantity
	if capped > e.cfg.MaxImpact {
		capped = e.cfg.MaxImpact
	}
	e.recent = append(e.recent, tradeSample{dir: dir, quantity: capped, price: price, at: e.now()})
	e.totalConverted += quantity
	e.evictLocked()
}

// evictLocked drops window entries older than the configured window.
// Caller holds the write lock.
func (e *Engine) evictLocked() {
	cutoff := e.now().Add(-e.cfg.Window)
	i := 0
	for i < len(e.recent) && e.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.recent = append(e.recent[:0], e.recent[i:]...)
	}
}

// Recompute runs one pricing cycle. Invoked on a fixed timer by Run;
// strictly serial with respect to itself (the timer fires serially), but
// it may interleave with RecordTrade and price reads. The (buy, sell)
// pair is published atomically under the write lock: readers see either
// the fully-old or fully-new pair.
func (e *Engine) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled {
		return
	}

	e.evictLocked()

	var buyVolume, sellVolume int64
	for _, s := range e.recent {
		if s.dir == domain.Buy {
			buyVolume += s.quantity
		} else {
			sellVolume += s.quantity
		}
	}

	e.demandEWMA = ewmaAlpha*float64(buyVolume) + (1-ewmaAlpha)*e.demandEWMA
	e.supplyEWMA = ewmaAlpha*float64(sellVolume) + (1-ewmaAlpha)*e.supplyEWMA

	e.depletion = e.depletionLocked()

	// Demand raises what traders pay; scarcity raises it further. The
	// depletion factor damps demand pressure (a depleted market trades
	// thinner) while the premium term prices the scarcity itself.
	demandPressure := e.demandEWMA * e.cfg.DemandSensitivity * e.depletion
	scarcityPremium := e.cfg.BaseBuy * (1 - e.depletion) * 0.5
	newBuy := e.cfg.BaseBuy + demandPressure + scarcityPremium

	// Oversupply lowers what traders receive.
	newSell := e.cfg.BaseSell - e.supplyEWMA*e.cfg.SupplySensitivity

	newBuy = clamp(newBuy, e.cfg.MinPrice, e.cfg.MaxPrice)
	newSell = clamp(newSell, e.cfg.MinPrice, e.cfg.MaxPrice)

	// No-arbitrage correction: an inverted or zero-spread pair is
	// recentered around the midpoint with a 5% spread, then re-clamped.
	// The final clamp cannot reorder the pair.
	if newBuy <= newSell {
		mid := (newBuy + newSell) / 2
		newBuy = clamp(mid*1.05, e.cfg.MinPrice, e.cfg.MaxPrice)
		newSell = clamp(mid*0.95, e.cfg.MinPrice, e.cfg.MaxPrice)
	}

	e.curBuy = newBuy
	e.curSell = newSell
}

// depletionLocked derives the depletion factor in [0.1, 1.0] from the
// cumulative converted volume, with a recovery bonus growing linearly
// from 0 to maxRecoveryBonus over the recovery period since start.
func (e *Engine) depletionLocked() float64 {
	recovery := 0.0
	if e.cfg.RecoveryPeriod > 0 {
		elapsed := e.now().Sub(e.startedAt).Seconds() / e.cfg.RecoveryPeriod.Seconds()
		if elapsed > 1 {
			elapsed = 1
		}
		recovery = elapsed * maxRecoveryBonus
	}
	return clamp(1.0-float64(e.totalConverted)*e.cfg.DepletionRate+recovery, 0.1, 1.0)
}

// Run fires Recompute on the configured interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.mu.RLock()
	enabled, interval := e.cfg.Enabled, e.cfg.UpdateInterval
	e.mu.RUnlock()
	if !enabled {
		slog.Info("dynamic pricing disabled, quoting base prices")
		return
	}

	slog.Info("dynamic pricing started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("dynamic pricing stopped")
			return
		case <-ticker.C:
			e.Recompute()
		}
	}
}

// BuyPrice returns the current price a trader pays per unit.
func (e *Engine) BuyPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.curBuy
}

// SellPrice returns the current price a trader receives per unit.
func (e *Engine) SellPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.curSell
}

// BasePrices returns the configured floor prices.
func (e *Engine) BasePrices() (buy, sell float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.BaseBuy, e.cfg.BaseSell
}

// TaxRate returns the global transaction tax rate.
func (e *Engine) TaxRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.TaxRate
}

// TransactionTax computes the tax on amount at the global rate.
func (e *Engine) TransactionTax(amount decimal.Decimal) decimal.Decimal {
	return TransactionTaxAt(amount, e.TaxRate())
}

// TransactionTaxAt computes the tax on amount at an explicit rate, for
// per-group rates. Pure function.
func TransactionTaxAt(amount decimal.Decimal, rate float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(rate))
}

// DepletionFactor returns the current depletion factor in [0.1, 1.0].
func (e *Engine) DepletionFactor() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.depletion
}

// TotalConverted returns the cumulative uncapped volume ever recorded.
func (e *Engine) TotalConverted() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalConverted
}

// RecentVolume returns the capped volume currently inside the window.
func (e *Engine) RecentVolume() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var v int64
	for _, s := range e.recent {
		v += s.quantity
	}
	return v
}

// Snapshot is a consistent view of the published price state, used by
// the live feed and admin surfaces.
type Snapshot struct {
	BuyPrice       float64 `json:"buy_price"`
	SellPrice      float64 `json:"sell_price"`
	Depletion      float64 `json:"depletion"`
	RecentVolume   int64   `json:"recent_volume"`
	TotalConverted int64   `json:"total_converted"`
}

// State returns a snapshot of the published price state.
func (e *Engine) State() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var v int64
	for _, s := range e.recent {
		v += s.quantity
	}
	return Snapshot{
		BuyPrice:       e.curBuy,
		SellPrice:      e.curSell,
		Depletion:      e.depletion,
		RecentVolume:   v,
		TotalConverted: e.totalConverted,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
