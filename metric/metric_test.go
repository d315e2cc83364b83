package metric

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordInsert("db", time.Millisecond, nil)
	c.RecordInsert("db", time.Millisecond, errors.New("boom"))
	c.RecordGet("db", true, time.Microsecond)
	c.RecordGet("db", false, time.Microsecond)
	c.RecordGet("db", false, time.Microsecond)
	c.RecordQuery("db", "vectors", 5, time.Millisecond, nil)
	c.RecordMessaging("db", "queue_pop", nil)
	c.RecordRemoval("db", "evicted")
	c.RecordDurabilityDegraded("db")
	c.RecordCheckpoint(42, time.Second, nil)
	c.RecordCheckpoint(0, time.Second, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("db", "insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("db", "insert", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gets.WithLabelValues("db", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.gets.WithLabelValues("db", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("db", "query_vectors", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messaging.WithLabelValues("db", "queue_pop", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.removals.WithLabelValues("db", "evicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded.WithLabelValues("db")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpoints.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpoints.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.ckptRecords))

	assert.Equal(t, 1, testutil.CollectAndCount(c.results, "tinycache_query_results"))
}

func TestCollectorWiredIntoCache(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	cfg := tinycache.DefaultDatabaseConfig()
	cfg.MaxSize = 2
	cfg.ShardCount = 1
	cfg.EvictionPolicy = tinycache.LRU

	tc, err := tinycache.Open(ctx,
		tinycache.WithMetricsCollector(c),
		tinycache.WithDatabase("db", cfg),
	)
	require.NoError(t, err)
	defer tc.Close(ctx)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, tc.Insert(ctx, "db", k, model.TypeKeyValue, model.NewString(k), 0))
	}
	_, err = tc.Get(ctx, "db", "a", model.TypeKeyValue)
	require.ErrorIs(t, err, tinycache.ErrNotFound)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.ops.WithLabelValues("db", "insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.removals.WithLabelValues("db", "evicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gets.WithLabelValues("db", "miss")))
}

type fakeStats []tinycache.DatabaseStats

func (f fakeStats) AllStats() []tinycache.DatabaseStats { return f }

func TestStatsCollector(t *testing.T) {
	src := fakeStats{
		{Name: "a", Len: 3, MaxSize: 8, ShardLoads: []int{1, 2}, Hits: 3, Misses: 1, Vectors: 2},
		{Name: "b", Len: 0, MaxSize: 4, ShardLoads: []int{0}},
	}
	sc := NewStatsCollector(src)

	assert.Equal(t, 2, testutil.CollectAndCount(sc, "tinycache_database_items"))
	assert.Equal(t, 3, testutil.CollectAndCount(sc, "tinycache_database_shard_items"))

	expected := `
# HELP tinycache_database_hit_rate Hits / (hits + misses)
# TYPE tinycache_database_hit_rate gauge
tinycache_database_hit_rate{database="a"} 0.75
tinycache_database_hit_rate{database="b"} 0
`
	require.NoError(t, testutil.CollectAndCompare(sc, strings.NewReader(expected), "tinycache_database_hit_rate"))
}

func TestStatsCollectorOverCache(t *testing.T) {
	ctx := context.Background()
	tc, err := tinycache.Open(ctx, tinycache.WithDatabase("db", tinycache.DefaultDatabaseConfig()))
	require.NoError(t, err)
	defer tc.Close(ctx)

	require.NoError(t, tc.Insert(ctx, "db", "k", model.TypeKeyValue, model.NewString("v"), 0))

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStatsCollector(tc))

	expected := `
# HELP tinycache_database_items Live items
# TYPE tinycache_database_items gauge
tinycache_database_items{database="db"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tinycache_database_items"))
}
