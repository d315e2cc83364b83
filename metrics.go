package tinycache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// metric provides a Prometheus implementation.
//
// RecordRemoval runs under a shard lock and must not block.
type MetricsCollector interface {
	// RecordInsert is called after each insert or update.
	RecordInsert(database string, duration time.Duration, err error)

	// RecordGet is called after each point read.
	RecordGet(database string, hit bool, duration time.Duration)

	// RecordDelete is called after each delete.
	RecordDelete(database string, duration time.Duration, err error)

	// RecordQuery is called after each document ("documents") or vector
	// ("vectors") query.
	RecordQuery(database, kind string, results int, duration time.Duration, err error)

	// RecordMessaging is called after each channel, stream or queue operation.
	RecordMessaging(database, op string, err error)

	// RecordRemoval is called for every eviction and expiry.
	RecordRemoval(database, reason string)

	// RecordDurabilityDegraded is called when a mutation could not be logged.
	RecordDurabilityDegraded(database string)

	// RecordCheckpoint is called after each WAL checkpoint.
	RecordCheckpoint(records int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(string, time.Duration, error)             {}
func (NoopMetricsCollector) RecordGet(string, bool, time.Duration)                 {}
func (NoopMetricsCollector) RecordDelete(string, time.Duration, error)             {}
func (NoopMetricsCollector) RecordQuery(string, string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordMessaging(string, string, error)                 {}
func (NoopMetricsCollector) RecordRemoval(string, string)                          {}
func (NoopMetricsCollector) RecordDurabilityDegraded(string)                       {}
func (NoopMetricsCollector) RecordCheckpoint(int, time.Duration, error)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	GetHits          atomic.Int64
	GetMisses        atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	MessagingCount   atomic.Int64
	MessagingErrors  atomic.Int64
	Evictions        atomic.Int64
	Expirations      atomic.Int64
	DurabilityErrors atomic.Int64
	Checkpoints      atomic.Int64
	CheckpointErrors atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(_ string, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(_ string, hit bool, _ time.Duration) {
	if hit {
		b.GetHits.Add(1)
	} else {
		b.GetMisses.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ string, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_, _ string, _ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordMessaging implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMessaging(_, _ string, err error) {
	b.MessagingCount.Add(1)
	if err != nil {
		b.MessagingErrors.Add(1)
	}
}

// RecordRemoval implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemoval(_, reason string) {
	switch reason {
	case "evicted":
		b.Evictions.Add(1)
	case "expired":
		b.Expirations.Add(1)
	}
}

// RecordDurabilityDegraded implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDurabilityDegraded(string) {
	b.DurabilityErrors.Add(1)
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ int, _ time.Duration, err error) {
	b.Checkpoints.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:      b.InsertCount.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertAvgNanos:   avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		GetHits:          b.GetHits.Load(),
		GetMisses:        b.GetMisses.Load(),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryAvgNanos:    avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		MessagingCount:   b.MessagingCount.Load(),
		MessagingErrors:  b.MessagingErrors.Load(),
		Evictions:        b.Evictions.Load(),
		Expirations:      b.Expirations.Load(),
		DurabilityErrors: b.DurabilityErrors.Load(),
		Checkpoints:      b.Checkpoints.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount      int64
	InsertErrors     int64
	InsertAvgNanos   int64
	GetHits          int64
	GetMisses        int64
	DeleteCount      int64
	DeleteErrors     int64
	QueryCount       int64
	QueryErrors      int64
	QueryAvgNanos    int64
	MessagingCount   int64
	MessagingErrors  int64
	Evictions        int64
	Expirations      int64
	DurabilityErrors int64
	Checkpoints      int64
	CheckpointErrors int64
}

// HitRate returns GetHits / (GetHits + GetMisses), or 0 without reads.
func (s BasicMetricsStats) HitRate() float64 {
	total := s.GetHits + s.GetMisses
	if total == 0 {
		return 0
	}
	return float64(s.GetHits) / float64(total)
}
