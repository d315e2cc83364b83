// Package metric exports tinycache operations and database state to
// Prometheus.
package metric

import (
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tinycache"

var _ tinycache.MetricsCollector = (*Collector)(nil)

// Collector implements tinycache.MetricsCollector with Prometheus
// counters and histograms.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	ops         *prometheus.CounterVec
	gets        *prometheus.CounterVec
	results     *prometheus.HistogramVec
	messaging   *prometheus.CounterVec
	removals    *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
	ckptRecords prometheus.Gauge
	ckptLatency prometheus.Histogram
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of cache operations",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"database", "op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total cache operations",
		}, []string{"database", "op", "status"}),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gets_total",
			Help:      "Point reads by result",
		}, []string{"database", "result"}),
		results: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_results",
			Help:      "Number of results returned per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}, []string{"database", "kind"}),
		messaging: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messaging_operations_total",
			Help:      "Channel, stream and queue operations",
		}, []string{"database", "op", "status"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Items removed by eviction or expiry",
		}, []string{"database", "reason"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durability_degraded_total",
			Help:      "Mutations applied in memory but not logged",
		}, []string{"database"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "WAL checkpoints",
		}, []string{"status"}),
		ckptRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_records",
			Help:      "Records written by the last successful checkpoint",
		}),
		ckptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Duration of WAL checkpoints",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.opLatency,
		c.ops,
		c.gets,
		c.results,
		c.messaging,
		c.removals,
		c.degraded,
		c.checkpoints,
		c.ckptRecords,
		c.ckptLatency,
	)

	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(database, op string, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues(database, op, s).Observe(d.Seconds())
	c.ops.WithLabelValues(database, op, s).Inc()
}

// RecordInsert implements tinycache.MetricsCollector.
func (c *Collector) RecordInsert(database string, d time.Duration, err error) {
	c.observe(database, "insert", d, err)
}

// RecordGet implements tinycache.MetricsCollector.
func (c *Collector) RecordGet(database string, hit bool, d time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.gets.WithLabelValues(database, result).Inc()
	c.opLatency.WithLabelValues(database, "get", "success").Observe(d.Seconds())
}

// RecordDelete implements tinycache.MetricsCollector.
func (c *Collector) RecordDelete(database string, d time.Duration, err error) {
	c.observe(database, "delete", d, err)
}

// RecordQuery implements tinycache.MetricsCollector.
func (c *Collector) RecordQuery(database, kind string, results int, d time.Duration, err error) {
	c.observe(database, "query_"+kind, d, err)
	if err == nil {
		c.results.WithLabelValues(database, kind).Observe(float64(results))
	}
}

// RecordMessaging implements tinycache.MetricsCollector.
func (c *Collector) RecordMessaging(database, op string, err error) {
	c.messaging.WithLabelValues(database, op, status(err)).Inc()
}

// RecordRemoval implements tinycache.MetricsCollector.
func (c *Collector) RecordRemoval(database, reason string) {
	c.removals.WithLabelValues(database, reason).Inc()
}

// RecordDurabilityDegraded implements tinycache.MetricsCollector.
func (c *Collector) RecordDurabilityDegraded(database string) {
	c.degraded.WithLabelValues(database).Inc()
}

// RecordCheckpoint implements tinycache.MetricsCollector.
func (c *Collector) RecordCheckpoint(records int, d time.Duration, err error) {
	c.checkpoints.WithLabelValues(status(err)).Inc()
	c.ckptLatency.Observe(d.Seconds())
	if err == nil {
		c.ckptRecords.Set(float64(records))
	}
}
