package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"emerald_exchange/internal/domain"

	"github.com/shopspring/decimal"
)

func testRecord(id string) *domain.TradeRecord {
	return &domain.TradeRecord{
		ID:          id,
		AccountID:   "11111111-2222-3333-4444-555555555555",
		AccountName: "steve",
		Direction:   domain.Sell,
		Quantity:    64,
		Amount:      decimal.NewFromFloat(608),
		UnitPrice:   decimal.NewFromFloat(10),
		Timestamp:   time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestRecorder_WritesAndDrainsOnClose(t *testing.T) {
	dir := t.TempDir()
	r := New(Options{Dir: dir})

	for i := 0; i < 100; i++ {
		r.Log(testRecord(fmt.Sprintf("ex_TEST_%06d", i)))
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "transactions.log"))
	if err != nil {
		t.Fatalf("Read log failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 100 {
		t.Errorf("Expected 100 lines drained before close, got %d", len(lines))
	}
}

func TestRecorder_LineFormat(t *testing.T) {
	dir := t.TempDir()
	r := New(Options{Dir: dir})

	r.Log(testRecord("ex_ABCD_000042"))
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "transactions.log"))
	if err != nil {
		t.Fatalf("Read log failed: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	want := "2026-03-15T09:30:00Z | UUID=11111111-2222-3333-4444-555555555555 | name=steve | TYPE=SELL | EMERALD=64 | MONEY=608.00 | PRICE=10.00 | TXID=ex_ABCD_000042"
	if line != want {
		t.Errorf("Line mismatch:\n got %s\nwant %s", line, want)
	}
}

func TestRecorder_DropsAfterClose(t *testing.T) {
	dir := t.TempDir()
	r := New(Options{Dir: dir})
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Must not block or panic.
	r.Log(testRecord("ex_LATE_000001"))

	data, _ := os.ReadFile(filepath.Join(dir, "transactions.log"))
	if strings.Contains(string(data), "ex_LATE_000001") {
		t.Error("Expected record after close to be dropped")
	}
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	r := New(Options{Dir: t.TempDir()})
	if err := r.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
