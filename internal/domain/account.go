package domain

import (
	"time"
)

// Account identifies a trading identity. The ID is an opaque stable key
// (UUID string in practice); Name is the display label shown in messages
// and persisted alongside stats.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountStats holds per-account cumulative trading statistics.
// One row per identity, created on first trade, never deleted.
// TotalConverted is monotonically non-decreasing (either trade direction
// adds to it). All mutation goes through the storage gateway.
type AccountStats struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Name           string    `gorm:"index" json:"name"`
	TotalConverted int64     `json:"total_converted"`
	LastUpdated    time.Time `gorm:"index" json:"last_updated"`
}

// AddConverted increments the cumulative counter and touches the
// last-updated timestamp.
func (s *AccountStats) AddConverted(amount int64) {
	s.TotalConverted += amount
	s.LastUpdated = time.Now()
}
