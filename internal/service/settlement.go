package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"emerald_exchange/internal/domain"
	"emerald_exchange/internal/engine"
	"emerald_exchange/internal/infra/metrics"

	"github.com/shopspring/decimal"
)

// StatsStore is the slice of the storage gateway the coordinator needs:
// the atomic per-account cumulative counter update.
type StatsStore interface {
	IncrementConverted(ctx context.Context, accountID, name string, amount int64) error
}

// TradeSink receives settled trade records for durable logging. Log must
// never block the settlement path.
type TradeSink interface {
	Log(record *domain.TradeRecord)
}

// Coordinator settles individual trades: validates preconditions, prices
// the trade, performs the atomic units-for-money exchange against the
// external Inventory and Ledger, and rolls back on partial failure.
//
// A per-account mutex wraps the check-and-exchange section, so two
// trades for the same account can never interleave (closing the
// read-then-debit duplication window); different accounts settle fully
// concurrently.
type Coordinator struct {
	prices    *engine.Engine
	limits    *RateLimiter
	inventory domain.Inventory
	ledger    domain.Ledger
	stats     StatsStore
	sink      TradeSink
	currency  string

	locks sync.Map // accountID -> *sync.Mutex
}

// NewCoordinator wires a settlement coordinator. stats and sink may be
// nil (bookkeeping is skipped, trades still settle).
func NewCoordinator(prices *engine.Engine, limits *RateLimiter, inventory domain.Inventory, ledger domain.Ledger, stats StatsStore, sink TradeSink, currencySymbol string) *Coordinator {
	return &Coordinator{
		prices:    prices,
		limits:    limits,
		inventory: inventory,
		ledger:    ledger,
		stats:     stats,
		sink:      sink,
		currency:  currencySymbol,
	}
}

func (c *Coordinator) lock(accountID string) *sync.Mutex {
	if m, ok := c.locks.Load(accountID); ok {
		return m.(*sync.Mutex)
	}
	m, _ := c.locks.LoadOrStore(accountID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// reject counts and builds a refusal.
func reject(messageKey string, placeholders map[string]string) domain.Result {
	metrics.Global.RecordRejection()
	return domain.FailureResult(messageKey, placeholders)
}

// Sell settles a liquidation: the account gives up quantity units and
// receives the current sell price per unit, minus tax. Blocking; returns
// only after the exchange has committed or definitively failed.
func (c *Coordinator) Sell(acct domain.Account, quantity int64) domain.Result {
	started := time.Now()
	if quantity <= 0 {
		return reject(domain.MsgInvalidAmount, nil)
	}
	if !c.limits.CheckCooldown(acct.ID) {
		return reject(domain.MsgCooldown, map[string]string{
			"seconds": strconv.FormatInt(int64(c.limits.CooldownRemaining(acct.ID).Seconds())+1, 10),
		})
	}
	if !c.limits.CheckRateLimit(acct.ID) {
		return reject(domain.MsgRateLimit, nil)
	}

	mu := c.lock(acct.ID)
	mu.Lock()
	defer mu.Unlock()

	held := c.inventory.Count(acct.ID)
	if held < quantity {
		return reject(domain.MsgNotEnoughUnit, map[string]string{
			"required": strconv.FormatInt(quantity, 10),
			"current":  strconv.FormatInt(held, 10),
		})
	}

	unitPrice := c.prices.SellPrice()
	price := decimal.NewFromFloat(unitPrice)
	gross := price.Mul(decimal.NewFromInt(quantity))
	tax := c.prices.TransactionTax(gross)
	net := gross.Sub(tax).Round(2)

	// Atomic exchange: units out first, money in second.
	if !c.inventory.Debit(acct.ID, quantity) {
		slog.Error("sell exchange failed", slog.String("step", "inventory debit"),
			slog.String("account", acct.ID))
		return reject(domain.MsgTradeFailed, nil)
	}
	if !c.ledger.Credit(acct.ID, net) {
		// Compensate: hand the debited units back.
		if !c.inventory.Credit(acct.ID, quantity) {
			slog.Error("sell compensation failed, units lost",
				slog.String("account", acct.ID), slog.Int64("quantity", quantity))
		}
		slog.Error("sell exchange failed", slog.String("step", "ledger credit"),
			slog.String("account", acct.ID))
		return reject(domain.MsgTradeFailed, nil)
	}

	// Commit point: the exchange happened and must not be undone over a
	// bookkeeping failure.
	return c.finalize(acct, domain.Sell, quantity, net, price, unitPrice, started)
}

// Buy settles an acquisition: the account pays the current buy price per
// unit plus tax, and receives quantity units.
func (c *Coordinator) Buy(acct domain.Account, quantity int64) domain.Result {
	started := time.Now()
	if quantity <= 0 {
		return reject(domain.MsgInvalidAmount, nil)
	}
	if !c.limits.CheckCooldown(acct.ID) {
		return reject(domain.MsgCooldown, map[string]string{
			"seconds": strconv.FormatInt(int64(c.limits.CooldownRemaining(acct.ID).Seconds())+1, 10),
		})
	}
	if !c.limits.CheckRateLimit(acct.ID) {
		return reject(domain.MsgRateLimit, nil)
	}

	mu := c.lock(acct.ID)
	mu.Lock()
	defer mu.Unlock()

	unitPrice := c.prices.BuyPrice()
	price := decimal.NewFromFloat(unitPrice)
	cost := price.Mul(decimal.NewFromInt(quantity))
	tax := c.prices.TransactionTax(cost)
	total := cost.Add(tax).Round(2)

	balance := c.ledger.Balance(acct.ID)
	if balance.LessThan(total) {
		return reject(domain.MsgNotEnoughCash, map[string]string{
			"required": total.StringFixed(2),
			"current":  balance.StringFixed(2),
		})
	}

	// Capacity is checked immediately before the exchange, not earlier,
	// to close the time-of-check/time-of-use window.
	if !c.inventory.HasCapacity(acct.ID, quantity) {
		return reject(domain.MsgInventoryFull, nil)
	}

	// Atomic exchange: money out first, units in second.
	if !c.ledger.Debit(acct.ID, total) {
		slog.Error("buy exchange failed", slog.String("step", "ledger debit"),
			slog.String("account", acct.ID))
		return reject(domain.MsgTradeFailed, nil)
	}
	if !c.inventory.Credit(acct.ID, quantity) {
		// Compensate: refund the debited funds.
		if !c.ledger.Credit(acct.ID, total) {
			slog.Error("buy compensation failed, funds lost",
				slog.String("account", acct.ID), slog.String("amount", total.String()))
		}
		slog.Error("buy exchange failed", slog.String("step", "inventory credit"),
			slog.String("account", acct.ID))
		return reject(domain.MsgTradeFailed, nil)
	}

	return c.finalize(acct, domain.Buy, quantity, total, price, unitPrice, started)
}

// SellAll liquidates every eligible unit the account holds.
func (c *Coordinator) SellAll(acct domain.Account) domain.Result {
	held := c.inventory.Count(acct.ID)
	if held == 0 {
		return reject(domain.MsgNotEnoughUnit, map[string]string{
			"required": "1",
			"current":  "0",
		})
	}
	return c.Sell(acct, held)
}

// finalize runs the post-commit bookkeeping. Each step is best-effort:
// the trade's outcome is already determined, so failures here are logged
// and never propagated. Durable-storage updates are scheduled, not
// awaited.
func (c *Coordinator) finalize(acct domain.Account, dir domain.Direction, quantity int64, amount, price decimal.Decimal, unitPrice float64, started time.Time) domain.Result {
	c.limits.Record(acct.ID)
	c.prices.RecordTrade(dir, quantity, unitPrice)

	record := domain.NewTradeRecord(acct, dir, quantity, amount, price)

	if c.stats != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.stats.IncrementConverted(ctx, acct.ID, acct.Name, quantity); err != nil {
				metrics.Global.RecordStorageError()
				slog.Warn("failed to update account stats",
					slog.String("account", acct.ID), slog.Any("error", err))
			}
		}()
	}
	if c.sink != nil {
		c.sink.Log(record)
	}

	metrics.Global.RecordSettlement(time.Since(started))
	return domain.SuccessResult(dir, quantity, amount, c.currency)
}
