package redis

import (
	"sync/atomic"
	"time"
)

// timer counts the calls of one command and their total latency
type timer struct {
	calls atomic.Uint64
	nanos atomic.Uint64
}

func (t *timer) record(d time.Duration) {
	t.calls.Add(1)
	t.nanos.Add(uint64(d.Nanoseconds()))
}

func (t *timer) average() time.Duration {
	calls := t.calls.Load()
	if calls == 0 {
		return 0
	}
	return time.Duration(t.nanos.Load() / calls)
}

func (t *timer) reset() {
	t.calls.Store(0)
	t.nanos.Store(0)
}

// Metrics tracks cache performance statistics
type Metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64

	get, set, del timer

	invalidations   atomic.Uint64
	invalidatedKeys atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit counts a read served from the cache
func (m *Metrics) RecordCacheHit() { m.hits.Add(1) }

// RecordCacheMiss counts a read of an absent key
func (m *Metrics) RecordCacheMiss() { m.misses.Add(1) }

// RecordCacheError counts a failed command
func (m *Metrics) RecordCacheError() { m.errors.Add(1) }

// RecordGet records a GET and its latency
func (m *Metrics) RecordGet(d time.Duration) { m.get.record(d) }

// RecordSet records a SET and its latency
func (m *Metrics) RecordSet(d time.Duration) { m.set.record(d) }

// RecordDelete records a DEL and its latency
func (m *Metrics) RecordDelete(d time.Duration) { m.del.record(d) }

// RecordInvalidation records one pattern invalidation and the keys it removed
func (m *Metrics) RecordInvalidation(keys int) {
	m.invalidations.Add(1)
	m.invalidatedKeys.Add(uint64(keys))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CacheHits:         m.hits.Load(),
		CacheMisses:       m.misses.Load(),
		CacheErrors:       m.errors.Load(),
		GetOperations:     m.get.calls.Load(),
		SetOperations:     m.set.calls.Load(),
		DeleteOperations:  m.del.calls.Load(),
		AvgGetLatency:     m.get.average(),
		AvgSetLatency:     m.set.average(),
		AvgDeleteLatency:  m.del.average(),
		InvalidationCount: m.invalidations.Load(),
		InvalidatedKeys:   m.invalidatedKeys.Load(),
	}
	if reads := s.CacheHits + s.CacheMisses; reads > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(reads) * 100
	}
	return s
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	m.get.reset()
	m.set.reset()
	m.del.reset()
	m.invalidations.Store(0)
	m.invalidatedKeys.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // percent

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	AvgGetLatency    time.Duration
	AvgSetLatency    time.Duration
	AvgDeleteLatency time.Duration

	InvalidationCount uint64
	InvalidatedKeys   uint64
}
