package service

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig controls the per-account trade gate. Cooldown <= 0
// disables the cooldown; Enabled false disables the per-minute counter.
type LimiterConfig struct {
	Cooldown     time.Duration
	Enabled      bool
	MaxPerMinute int
	Window       time.Duration // counting window, default one minute
}

type limitEntry struct {
	mu          sync.Mutex
	lastTrade   time.Time
	count       int
	windowStart time.Time
}

// RateLimiter gates trades per account: a cooldown between consecutive
// trades and a fixed-window transaction counter. Entries are sharded by
// account key (one lock each) so unrelated accounts never contend; idle
// entries are swept after 2x the counting window.
type RateLimiter struct {
	mu  sync.RWMutex
	cfg LimiterConfig

	entries sync.Map // accountID -> *limitEntry

	// Bypass is the administrative exemption hook: when it reports true
	// for an account, both checks short-circuit without touching state.
	Bypass func(accountID string) bool

	now func() time.Time
}

// NewRateLimiter builds a limiter; a zero Window defaults to one minute.
func NewRateLimiter(cfg LimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{cfg: cfg, now: time.Now}
}

// Reload swaps the configuration. Existing per-account state survives.
func (l *RateLimiter) Reload(cfg LimiterConfig) {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *RateLimiter) config() LimiterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *RateLimiter) entry(accountID string) *limitEntry {
	if e, ok := l.entries.Load(accountID); ok {
		return e.(*limitEntry)
	}
	e, _ := l.entries.LoadOrStore(accountID, &limitEntry{})
	return e.(*limitEntry)
}

// CheckCooldown reports whether the account's cooldown has elapsed.
func (l *RateLimiter) CheckCooldown(accountID string) bool {
	if l.Bypass != nil && l.Bypass(accountID) {
		return true
	}
	cfg := l.config()
	if cfg.Cooldown <= 0 {
		return true
	}

	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTrade.IsZero() {
		return true
	}
	return l.now().Sub(e.lastTrade) >= cfg.Cooldown
}

// CooldownRemaining returns how long until the account may trade again.
func (l *RateLimiter) CooldownRemaining(accountID string) time.Duration {
	cfg := l.config()
	if cfg.Cooldown <= 0 {
		return 0
	}
	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTrade.IsZero() {
		return 0
	}
	remaining := cfg.Cooldown - l.now().Sub(e.lastTrade)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckRateLimit reports whether the account is under its per-window
// transaction ceiling.
func (l *RateLimiter) CheckRateLimit(accountID string) bool {
	if l.Bypass != nil && l.Bypass(accountID) {
		return true
	}
	cfg := l.config()
	if !cfg.Enabled {
		return true
	}

	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.resetIfElapsed(e)
	return e.count < cfg.MaxPerMinute
}

// Record marks a settled trade: refreshes the cooldown timestamp and
// increments the window counter.
func (l *RateLimiter) Record(accountID string) {
	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.now()
	l.resetIfElapsed(e)
	e.lastTrade = now
	if e.windowStart.IsZero() {
		e.windowStart = now
	}
	e.count++
}

// resetIfElapsed starts a fresh counting window when the current one has
// run out. Caller holds the entry lock.
func (l *RateLimiter) resetIfElapsed(e *limitEntry) {
	now := l.now()
	if e.windowStart.IsZero() {
		e.windowStart = now
		return
	}
	if now.Sub(e.windowStart) >= l.config().Window {
		e.count = 0
		e.windowStart = now
	}
}

// Sweep drops entries idle for at least 2x the counting window.
func (l *RateLimiter) Sweep() {
	cfg := l.config()
	cutoff := l.now().Add(-2 * cfg.Window)
	l.entries.Range(func(key, value any) bool {
		e := value.(*limitEntry)
		e.mu.Lock()
		idle := e.lastTrade.Before(cutoff) && e.windowStart.Before(cutoff)
		e.mu.Unlock()
		if idle {
			l.entries.Delete(key)
		}
		return true
	})
}

// Run sweeps idle entries once a minute until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
