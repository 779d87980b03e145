// Package execution provides in-memory Inventory and Ledger
// implementations, used for paper trading and as the default wiring
// when no external holdings system is attached.
package execution

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PaperInventory tracks per-account unit holdings in memory with an
// optional per-account capacity ceiling. Zero capacity means unlimited.
type PaperInventory struct {
	mu       sync.Mutex
	holdings map[string]int64
	capacity int64
}

// NewPaperInventory creates an inventory; capacity <= 0 is unlimited.
func NewPaperInventory(capacity int64) *PaperInventory {
	return &PaperInventory{holdings: make(map[string]int64), capacity: capacity}
}

func (p *PaperInventory) Count(accountID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[accountID]
}

func (p *PaperInventory) Debit(accountID string, qty int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 || p.holdings[accountID] < qty {
		return false
	}
	p.holdings[accountID] -= qty
	return true
}

func (p *PaperInventory) Credit(accountID string, qty int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 {
		return false
	}
	if p.capacity > 0 && p.holdings[accountID]+qty > p.capacity {
		return false
	}
	p.holdings[accountID] += qty
	return true
}

func (p *PaperInventory) HasCapacity(accountID string, qty int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity <= 0 {
		return true
	}
	return p.holdings[accountID]+qty <= p.capacity
}

// Grant deposits units directly, outside any trade.
func (p *PaperInventory) Grant(accountID string, qty int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[accountID] += qty
}

// PaperLedger tracks per-account cash balances in memory. Balances
// never go negative; a debit exceeding the balance fails whole.
type PaperLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewPaperLedger() *PaperLedger {
	return &PaperLedger{balances: make(map[string]decimal.Decimal)}
}

func (p *PaperLedger) Balance(accountID string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[accountID]
}

func (p *PaperLedger) Debit(accountID string, amount decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.IsNegative() {
		return false
	}
	bal := p.balances[accountID]
	if bal.LessThan(amount) {
		return false
	}
	p.balances[accountID] = bal.Sub(amount)
	return true
}

func (p *PaperLedger) Credit(accountID string, amount decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.IsNegative() {
		return false
	}
	p.balances[accountID] = p.balances[accountID].Add(amount)
	return true
}

func (p *PaperLedger) HasAccount(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.balances[accountID]
	return ok
}

func (p *PaperLedger) CreateAccount(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.balances[accountID]; ok {
		return false
	}
	p.balances[accountID] = decimal.Zero
	return true
}
