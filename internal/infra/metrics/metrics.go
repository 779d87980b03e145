// Package metrics provides lightweight observability without external
// dependencies. Uses atomic operations for thread-safety.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks settlement throughput and storage health.
type Metrics struct {
	// Counters
	tradesSettled  atomic.Uint64
	tradesRejected atomic.Uint64
	storageErrors  atomic.Uint64

	// Settlement latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedSubscribers atomic.Int32
	emergencyCache  atomic.Int32 // 1 = active, 0 = inactive
}

// Global is the singleton metrics instance.
var Global = &Metrics{}

// RecordSettlement records a settled trade with its latency.
func (m *Metrics) RecordSettlement(latency time.Duration) {
	m.tradesSettled.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordRejection records a trade refused before the exchange step.
func (m *Metrics) RecordRejection() {
	m.tradesRejected.Add(1)
}

// RecordStorageError records a failed durable-storage operation.
func (m *Metrics) RecordStorageError() {
	m.storageErrors.Add(1)
}

// SetFeedSubscribers sets the current websocket subscriber count.
func (m *Metrics) SetFeedSubscribers(count int32) {
	m.feedSubscribers.Store(count)
}

// SetEmergencyCache sets the emergency-cache gauge (true = active).
func (m *Metrics) SetEmergencyCache(active bool) {
	if active {
		m.emergencyCache.Store(1)
	} else {
		m.emergencyCache.Store(0)
	}
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	TradesSettled   uint64
	TradesRejected  uint64
	StorageErrors   uint64
	AvgLatencyNs    int64
	FeedSubscribers int32
	EmergencyCache  bool
	Timestamp       time.Time
}

// Read returns current metrics as a snapshot.
func (m *Metrics) Read() Snapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return Snapshot{
		TradesSettled:   m.tradesSettled.Load(),
		TradesRejected:  m.tradesRejected.Load(),
		StorageErrors:   m.storageErrors.Load(),
		AvgLatencyNs:    avgLatency,
		FeedSubscribers: m.feedSubscribers.Load(),
		EmergencyCache:  m.emergencyCache.Load() == 1,
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.tradesSettled.Store(0)
	m.tradesRejected.Store(0)
	m.storageErrors.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedSubscribers.Store(0)
	m.emergencyCache.Store(0)
}
