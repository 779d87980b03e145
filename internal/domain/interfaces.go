package domain

import "github.com/shopspring/decimal"

// Inventory is the external store of emerald units, owned by the caller's
// environment. All methods must be safe to call concurrently for
// different accounts.
type Inventory interface {
	// Count returns the number of eligible units the account holds.
	Count(accountID string) int64
	// Debit removes qty units; returns false if the units are not there.
	Debit(accountID string, qty int64) bool
	// Credit adds qty units; returns false if they cannot be placed.
	Credit(accountID string, qty int64) bool
	// HasCapacity reports whether qty incoming units fit.
	HasCapacity(accountID string, qty int64) bool
}

// Ledger is the external currency balance provider.
type Ledger interface {
	Balance(accountID string) decimal.Decimal
	Debit(accountID string, amount decimal.Decimal) bool
	Credit(accountID string, amount decimal.Decimal) bool
	HasAccount(accountID string) bool
	CreateAccount(accountID string) bool
}
