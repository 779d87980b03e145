package execution

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPaperInventory_DebitCredit(t *testing.T) {
	inv := NewPaperInventory(0)

	inv.Grant("acct-1", 64)
	if got := inv.Count("acct-1"); got != 64 {
		t.Fatalf("Expected 64 units, got %d", got)
	}

	if !inv.Debit("acct-1", 40) {
		t.Fatal("Expected debit of 40 to succeed")
	}
	if inv.Debit("acct-1", 25) {
		t.Error("Expected overdraw of 25 against 24 to fail")
	}
	if got := inv.Count("acct-1"); got != 24 {
		t.Errorf("Expected 24 units after failed overdraw, got %d", got)
	}
}

func TestPaperInventory_Capacity(t *testing.T) {
	inv := NewPaperInventory(10)

	if !inv.HasCapacity("acct-1", 10) {
		t.Error("Expected capacity for 10")
	}
	if !inv.Credit("acct-1", 10) {
		t.Fatal("Expected credit up to capacity to succeed")
	}
	if inv.HasCapacity("acct-1", 1) {
		t.Error("Expected no capacity at the ceiling")
	}
	if inv.Credit("acct-1", 1) {
		t.Error("Expected credit past capacity to fail")
	}
}

func TestPaperInventory_ConcurrentDebits(t *testing.T) {
	inv := NewPaperInventory(0)
	inv.Grant("acct-1", 100)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if inv.Debit("acct-1", 1) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 100 {
		t.Errorf("Expected exactly 100 debits to win, got %d", won)
	}
	if got := inv.Count("acct-1"); got != 0 {
		t.Errorf("Expected 0 units left, got %d", got)
	}
}

func TestPaperLedger_NoOverdraft(t *testing.T) {
	led := NewPaperLedger()

	led.Credit("acct-1", decimal.NewFromInt(100))
	if !led.Debit("acct-1", decimal.NewFromFloat(99.75)) {
		t.Fatal("Expected debit within balance to succeed")
	}
	if led.Debit("acct-1", decimal.NewFromInt(1)) {
		t.Error("Expected overdraft to fail")
	}
	if got := led.Balance("acct-1").StringFixed(2); got != "0.25" {
		t.Errorf("Expected balance 0.25, got %s", got)
	}
}

func TestPaperLedger_Accounts(t *testing.T) {
	led := NewPaperLedger()

	if led.HasAccount("acct-1") {
		t.Error("Expected no account before creation")
	}
	led.CreateAccount("acct-1")
	if !led.HasAccount("acct-1") {
		t.Error("Expected account after creation")
	}
	if !led.Balance("acct-1").IsZero() {
		t.Error("Expected fresh account balance zero")
	}
}
