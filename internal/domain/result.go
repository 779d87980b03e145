package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Message keys resolved by the presentation layer. The core never builds
// user-facing strings, only keys plus named placeholder values.
const (
	MsgConvertSell   = "success.convert_sell"
	MsgConvertBuy    = "success.convert_buy"
	MsgInvalidAmount = "error.invalid_amount"
	MsgCooldown      = "error.cooldown"
	MsgRateLimit     = "error.rate_limit"
	MsgNotEnoughUnit = "error.not_enough_emerald"
	MsgNotEnoughCash = "error.not_enough_money"
	MsgInventoryFull = "error.inventory_full"
	MsgTradeFailed   = "error.transaction_failed"
)

// Result is the outcome of a trade request: success flag, message key and
// placeholders for display, and typed amounts for successful trades.
type Result struct {
	Success      bool
	MessageKey   string
	Placeholders map[string]string
	Quantity     int64
	Amount       decimal.Decimal
	Direction    Direction
}

// SuccessResult builds a successful trade result with the standard
// placeholder set (emerald, money, currency).
func SuccessResult(dir Direction, quantity int64, amount decimal.Decimal, currencySymbol string) Result {
	key := MsgConvertBuy
	if dir == Sell {
		key = MsgConvertSell
	}
	return Result{
		Success:    true,
		MessageKey: key,
		Placeholders: map[string]string{
			"emerald":  strconv.FormatInt(quantity, 10),
			"money":    amount.StringFixed(2),
			"currency": currencySymbol,
		},
		Quantity:  quantity,
		Amount:    amount,
		Direction: dir,
	}
}

// FailureResult builds a rejected or failed trade result.
func FailureResult(messageKey string, placeholders map[string]string) Result {
	if placeholders == nil {
		placeholders = map[string]string{}
	}
	return Result{Success: false, MessageKey: messageKey, Placeholders: placeholders}
}
