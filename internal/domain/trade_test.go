package domain

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewTradeID_Format(t *testing.T) {
	id := NewTradeID()

	if !strings.HasPrefix(id, "ex_") {
		t.Errorf("Expected ex_ prefix, got %s", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("Expected 3 segments, got %s", id)
	}
	if len(parts[2]) != 6 {
		t.Errorf("Expected zero-padded 6-digit sequence, got %s", parts[2])
	}
}

func TestNewTradeID_Unique(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				id := NewTradeID()
				mu.Lock()
				if seen[id] {
					t.Errorf("Duplicate trade ID %s", id)
					mu.Unlock()
					return
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestTradeRecord_LogLine(t *testing.T) {
	rec := &TradeRecord{
		ID:          "ex_ABCD_000042",
		AccountID:   "11111111-2222-3333-4444-555555555555",
		AccountName: "steve",
		Direction:   Sell,
		Quantity:    64,
		Amount:      decimal.NewFromFloat(608),
		UnitPrice:   decimal.NewFromFloat(10),
		Timestamp:   time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	}

	got := rec.LogLine()
	want := "2026-03-15T09:30:00Z | UUID=11111111-2222-3333-4444-555555555555 | name=steve | TYPE=SELL | EMERALD=64 | MONEY=608.00 | PRICE=10.00 | TXID=ex_ABCD_000042"
	if got != want {
		t.Errorf("Log line mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestNewTradeRecord(t *testing.T) {
	acct := Account{ID: "abc", Name: "alex"}
	rec := NewTradeRecord(acct, Buy, 10, decimal.NewFromFloat(99.75), decimal.NewFromFloat(9.5))

	if rec.ID == "" {
		t.Error("Expected a stamped trade ID")
	}
	if rec.AccountID != "abc" || rec.AccountName != "alex" {
		t.Errorf("Expected account identity carried over, got %+v", rec)
	}
	if rec.Direction != Buy || rec.Quantity != 10 {
		t.Errorf("Expected BUY of 10 units, got %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Expected a stamped timestamp")
	}
}

func TestAccountStats_AddConverted(t *testing.T) {
	stats := &AccountStats{ID: "abc", Name: "alex"}

	stats.AddConverted(64)
	stats.AddConverted(36)

	if stats.TotalConverted != 100 {
		t.Errorf("Expected total 100, got %d", stats.TotalConverted)
	}
	if stats.LastUpdated.IsZero() {
		t.Error("Expected last-updated touched")
	}
}
