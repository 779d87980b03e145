package service

import (
	"testing"
	"time"
)

func testLimiter() (*RateLimiter, *time.Time) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(LimiterConfig{
		Cooldown:     3 * time.Second,
		Enabled:      true,
		MaxPerMinute: 20,
	})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestRateLimiter_FirstTradeAllowed(t *testing.T) {
	l, _ := testLimiter()

	if !l.CheckCooldown("acct-1") {
		t.Error("Expected first trade to pass cooldown")
	}
	if !l.CheckRateLimit("acct-1") {
		t.Error("Expected first trade to pass rate limit")
	}
}

func TestRateLimiter_Cooldown(t *testing.T) {
	l, clock := testLimiter()

	l.Record("acct-1")
	if l.CheckCooldown("acct-1") {
		t.Error("Expected cooldown to block an immediate retry")
	}
	if got := l.CooldownRemaining("acct-1"); got != 3*time.Second {
		t.Errorf("Expected 3s remaining, got %v", got)
	}

	*clock = clock.Add(3 * time.Second)
	if !l.CheckCooldown("acct-1") {
		t.Error("Expected cooldown elapsed after 3s")
	}
	if got := l.CooldownRemaining("acct-1"); got != 0 {
		t.Errorf("Expected no cooldown remaining, got %v", got)
	}
}

func TestRateLimiter_TwentyFirstRejected(t *testing.T) {
	l, clock := testLimiter()

	for i := 0; i < 20; i++ {
		if !l.CheckRateLimit("acct-1") {
			t.Fatalf("Expected trade %d within the ceiling", i+1)
		}
		l.Record("acct-1")
		*clock = clock.Add(100 * time.Millisecond)
	}

	if l.CheckRateLimit("acct-1") {
		t.Error("Expected 21st trade within the window to be rejected")
	}
}

func TestRateLimiter_WindowReopens(t *testing.T) {
	l, clock := testLimiter()

	for i := 0; i < 20; i++ {
		l.Record("acct-1")
	}
	if l.CheckRateLimit("acct-1") {
		t.Fatal("Expected ceiling reached")
	}

	*clock = clock.Add(61 * time.Second)
	if !l.CheckRateLimit("acct-1") {
		t.Error("Expected a fresh window after the old one expired")
	}
}

func TestRateLimiter_AccountsIndependent(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 20; i++ {
		l.Record("acct-1")
	}
	if l.CheckRateLimit("acct-1") {
		t.Fatal("Expected acct-1 at its ceiling")
	}
	if !l.CheckRateLimit("acct-2") {
		t.Error("Expected acct-2 unaffected by acct-1's volume")
	}
	if !l.CheckCooldown("acct-2") {
		t.Error("Expected acct-2 unaffected by acct-1's cooldown")
	}
}

func TestRateLimiter_Bypass(t *testing.T) {
	l, _ := testLimiter()
	l.Bypass = func(accountID string) bool { return accountID == "admin" }

	for i := 0; i < 20; i++ {
		l.Record("admin")
	}
	l.Record("admin")

	if !l.CheckCooldown("admin") {
		t.Error("Expected bypass to skip the cooldown")
	}
	if !l.CheckRateLimit("admin") {
		t.Error("Expected bypass to skip the rate limit")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{Cooldown: 0, Enabled: false, MaxPerMinute: 1})

	for i := 0; i < 5; i++ {
		l.Record("acct-1")
	}
	if !l.CheckCooldown("acct-1") {
		t.Error("Expected zero cooldown to always pass")
	}
	if !l.CheckRateLimit("acct-1") {
		t.Error("Expected disabled limiter to always pass")
	}
}

func TestRateLimiter_Reload(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 5; i++ {
		l.Record("acct-1")
	}
	l.Reload(LimiterConfig{Cooldown: 3 * time.Second, Enabled: true, MaxPerMinute: 5})

	if l.CheckRateLimit("acct-1") {
		t.Error("Expected existing counter to apply against the new ceiling")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	l, clock := testLimiter()

	l.Record("acct-1")
	*clock = clock.Add(3 * time.Minute)
	l.Sweep()

	if _, ok := l.entries.Load("acct-1"); ok {
		t.Error("Expected idle entry swept after 2x window")
	}
	// State for a swept account resets cleanly.
	if !l.CheckCooldown("acct-1") {
		t.Error("Expected swept account to trade immediately")
	}
}
