package metric

import (
	"strconv"

	"github.com/hupe1980/tinycache"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports per-database state. *tinycache.TinyCache implements it.
type StatsSource interface {
	AllStats() []tinycache.DatabaseStats
}

// StatsCollector is a prometheus.Collector that reads database state at
// scrape time.
type StatsCollector struct {
	src StatsSource

	items     *prometheus.Desc
	maxSize   *prometheus.Desc
	shardLoad *prometheus.Desc
	hitRate   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	expired   *prometheus.Desc
	indexed   *prometheus.Desc
	postings  *prometheus.Desc
	vectors   *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector returns a collector over src.
func NewStatsCollector(src StatsSource) *StatsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "database", name), help, append([]string{"database"}, labels...), nil)
	}

	return &StatsCollector{
		src:       src,
		items:     desc("items", "Live items"),
		maxSize:   desc("max_size", "Configured item capacity"),
		shardLoad: desc("shard_items", "Live items per shard", "shard"),
		hitRate:   desc("hit_rate", "Hits / (hits + misses)"),
		hits:      desc("hits_total", "Point read hits"),
		misses:    desc("misses_total", "Point read misses"),
		evictions: desc("evictions_total", "Items evicted"),
		expired:   desc("expirations_total", "Items expired"),
		indexed:   desc("indexed_documents", "Documents in the field index"),
		postings:  desc("index_postings", "Field index postings"),
		vectors:   desc("vectors", "Items in the vector index"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.maxSize
	ch <- c.shardLoad
	ch <- c.hitRate
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expired
	ch <- c.indexed
	ch <- c.postings
	ch <- c.vectors
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.AllStats() {
		gauge := func(d *prometheus.Desc, v float64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{s.Name}, labels...)...)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.Name)
		}

		gauge(c.items, float64(s.Len))
		gauge(c.maxSize, float64(s.MaxSize))
		for i, n := range s.ShardLoads {
			gauge(c.shardLoad, float64(n), strconv.Itoa(i))
		}
		gauge(c.hitRate, s.HitRate())
		counter(c.hits, s.Hits)
		counter(c.misses, s.Misses)
		counter(c.evictions, s.Evictions)
		counter(c.expired, s.Expirations)
		gauge(c.indexed, float64(s.IndexedDocs))
		gauge(c.postings, float64(s.Postings))
		gauge(c.vectors, float64(s.Vectors))
	}
}
