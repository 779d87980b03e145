package domain

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a trade, named from the trader's perspective:
// BUY = trader acquires emerald units from the service,
// SELL = trader liquidates emerald units to the service.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Session token: process-start epoch seconds mod 36^4, base36. Gives
// 1,679,616 distinct epochs (~19 days) before wraparound, so trade IDs
// stay unique across restarts within the same second with extremely low
// collision probability.
var (
	tradeSeq     atomic.Int64
	sessionToken = strings.ToUpper(strconv.FormatInt(time.Now().Unix()%1679616, 36))
)

// NewTradeID returns a globally unique trade identifier,
// format ex_<session>_<seq>.
func NewTradeID() string {
	return fmt.Sprintf("ex_%s_%06d", sessionToken, tradeSeq.Add(1))
}

// TradeRecord is an immutable record of a settled trade. SQL storage
// backends persist these rows directly; the flat-file recorder writes
// one LogLine per record.
type TradeRecord struct {
	ID          string          `gorm:"primaryKey;size:32" json:"id"`
	AccountID   string          `gorm:"index;size:36" json:"account_id"`
	AccountName string          `json:"account_name"`
	Direction   Direction       `gorm:"size:4;index:idx_trades_dir_ts" json:"direction"`
	Quantity    int64           `json:"quantity"`
	Amount      decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2)" json:"unit_price"`
	Timestamp   time.Time       `gorm:"index:idx_trades_dir_ts" json:"timestamp"`
}

// NewTradeRecord stamps a fresh ID and timestamp onto a settled trade.
// Amount is the settled monetary amount (post-tax for sells, tax
// inclusive for buys); UnitPrice is the quoted price at settlement time.
func NewTradeRecord(acct Account, dir Direction, quantity int64, amount, unitPrice decimal.Decimal) *TradeRecord {
	return &TradeRecord{
		ID:          NewTradeID(),
		AccountID:   acct.ID,
		AccountName: acct.Name,
		Direction:   dir,
		Quantity:    quantity,
		Amount:      amount,
		UnitPrice:   unitPrice,
		Timestamp:   time.Now(),
	}
}

// LogLine renders the record in the transaction-log line format. Field
// order and presence are a compatibility surface for external tooling:
// ISO-8601 timestamp, account id, name, direction, quantity, money (2dp),
// unit price (2dp), trade id.
func (t *TradeRecord) LogLine() string {
	return fmt.Sprintf("%s | UUID=%s | name=%s | TYPE=%s | EMERALD=%d | MONEY=%s | PRICE=%s | TXID=%s",
		t.Timestamp.UTC().Format(time.RFC3339),
		t.AccountID,
		t.AccountName,
		t.Direction,
		t.Quantity,
		t.Amount.StringFixed(2),
		t.UnitPrice.StringFixed(2),
		t.ID,
	)
}

// TableName keeps the SQL table name stable across backends.
func (TradeRecord) TableName() string {
	return "trades"
}
