package tinycache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/distance"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDB = "db"

// openTest opens an instance with one database configured by cfgFn and
// closes it when the test ends.
func openTest(t *testing.T, cfgFn func(cfg *tinycache.DatabaseConfig), optFns ...tinycache.Option) *tinycache.TinyCache {
	t.Helper()

	cfg := tinycache.DefaultDatabaseConfig()
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	ctx := context.Background()
	tc, err := tinycache.Open(ctx, append(optFns, tinycache.WithDatabase(testDB, cfg))...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tc.Close(ctx))
	})
	return tc
}

func kvString(t *testing.T, v model.Value) string {
	t.Helper()
	kv, ok := v.(*model.KeyValue)
	require.True(t, ok, "want key-value, got %T", v)
	return kv.Str
}

func TestInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "k", model.TypeKeyValue, model.NewString("v1"), 0))

	v, err := tc.Get(ctx, testDB, "k", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "v1", kvString(t, v))

	// Replacing a live key.
	require.NoError(t, tc.Insert(ctx, testDB, "k", model.TypeKeyValue, model.NewString("v2"), 0))
	v, err = tc.Get(ctx, testDB, "k", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "v2", kvString(t, v))

	require.NoError(t, tc.Delete(ctx, testDB, "k", model.TypeKeyValue))

	_, err = tc.Get(ctx, testDB, "k", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)

	err = tc.Delete(ctx, testDB, "k", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "d", model.TypeDocument, model.NewDocument(map[string]any{"a": "x"}), 0))

	v, err := tc.Get(ctx, testDB, "d", model.TypeDocument)
	require.NoError(t, err)
	v.(*model.Document).Fields["a"] = "mutated"

	v, err = tc.Get(ctx, testDB, "d", model.TypeDocument)
	require.NoError(t, err)
	assert.Equal(t, "x", v.(*model.Document).Fields["a"])
}

func TestEntryTypesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "same", model.TypeKeyValue, model.NewString("kv"), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "same", model.TypeDocument, model.NewDocument(map[string]any{"n": 1}), 0))

	v, err := tc.Get(ctx, testDB, "same", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "kv", kvString(t, v))

	v, err = tc.Get(ctx, testDB, "same", model.TypeDocument)
	require.NoError(t, err)
	assert.IsType(t, &model.Document{}, v)

	require.NoError(t, tc.Delete(ctx, testDB, "same", model.TypeKeyValue))
	_, err = tc.Get(ctx, testDB, "same", model.TypeDocument)
	assert.NoError(t, err)
}

func TestTypeMismatch(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	err := tc.Insert(ctx, testDB, "k", model.TypeDocument, model.NewString("v"), 0)
	assert.ErrorIs(t, err, tinycache.ErrTypeMismatch)

	err = tc.Insert(ctx, testDB, "k", model.TypeKeyValue, nil, 0)
	assert.ErrorIs(t, err, tinycache.ErrTypeMismatch)
}

func TestUnknownDatabase(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	err := tc.Insert(ctx, "missing", "k", model.TypeKeyValue, model.NewString("v"), 0)
	assert.ErrorIs(t, err, tinycache.ErrDatabaseNotFound)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	_, err := tc.Update(ctx, testDB, "k", model.TypeKeyValue, model.NewString("v"), 0)
	require.ErrorIs(t, err, tinycache.ErrNotFound)

	require.NoError(t, tc.Insert(ctx, testDB, "k", model.TypeKeyValue, model.NewString("old"), 0))

	old, err := tc.Update(ctx, testDB, "k", model.TypeKeyValue, model.NewString("new"), 0)
	require.NoError(t, err)
	assert.Equal(t, "old", kvString(t, old))

	v, err := tc.Get(ctx, testDB, "k", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "new", kvString(t, v))
}

func TestIncrDecr(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	_, err := tc.Incr(ctx, testDB, "n", 1)
	require.ErrorIs(t, err, tinycache.ErrNotFound)

	require.NoError(t, tc.Insert(ctx, testDB, "n", model.TypeKeyValue, model.NewString("41"), 0))

	n, err := tc.Incr(ctx, testDB, "n", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = tc.Decr(ctx, testDB, "n", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(-8), n)

	v, err := tc.Get(ctx, testDB, "n", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "-8", kvString(t, v))

	require.NoError(t, tc.Insert(ctx, testDB, "s", model.TypeKeyValue, model.NewString("abc"), 0))
	_, err = tc.Incr(ctx, testDB, "s", 1)
	assert.ErrorIs(t, err, tinycache.ErrTypeMismatch)
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.DefaultTTL = time.Hour
	}, tinycache.WithClock(clock.Now))

	require.NoError(t, tc.Insert(ctx, testDB, "short", model.TypeKeyValue, model.NewString("v"), time.Minute))
	require.NoError(t, tc.Insert(ctx, testDB, "default", model.TypeKeyValue, model.NewString("v"), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "forever", model.TypeKeyValue, model.NewString("v"), tinycache.NoExpiry))

	it, err := tc.GetItem(ctx, testDB, "default", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), it.ExpiresAt)

	clock.Advance(time.Minute)

	_, err = tc.Get(ctx, testDB, "short", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound, "expiry is exclusive of the deadline")

	_, err = tc.Get(ctx, testDB, "default", model.TypeKeyValue)
	assert.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = tc.Get(ctx, testDB, "default", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)

	_, err = tc.Get(ctx, testDB, "forever", model.TypeKeyValue)
	assert.NoError(t, err)

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Len)
	assert.Equal(t, uint64(2), stats.Expirations)
}

func TestExpiredDocumentLeavesIndex(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	tc := openTest(t, nil, tinycache.WithClock(clock.Now))

	require.NoError(t, tc.Insert(ctx, testDB, "d", model.TypeDocument, model.NewDocument(map[string]any{"status": "new"}), time.Second))
	require.NoError(t, tc.Insert(ctx, testDB, "h", model.TypeHybrid, model.NewHybrid(map[string]any{"status": "new"}, []float32{1, 0}), time.Second))

	clock.Advance(time.Second)

	docs, err := tc.QueryDocuments(ctx, testDB, "status", "new")
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err := tc.SweepExpired(ctx, testDB)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the query already removed both")

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Zero(t, stats.Len)
	assert.Zero(t, stats.Postings)
	assert.Zero(t, stats.Vectors)
}

func TestSweepAll(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	tc := openTest(t, nil, tinycache.WithClock(clock.Now))
	require.NoError(t, tc.CreateDatabase(ctx, "other", tinycache.DefaultDatabaseConfig()))

	for i := range 5 {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, tc.Insert(ctx, testDB, key, model.TypeKeyValue, model.NewString("v"), time.Second))
		require.NoError(t, tc.Insert(ctx, "other", key, model.TypeKeyValue, model.NewString("v"), time.Second))
	}
	require.NoError(t, tc.Insert(ctx, testDB, "keep", model.TypeKeyValue, model.NewString("v"), 0))

	clock.Advance(2 * time.Second)

	assert.Equal(t, 10, tc.SweepAll(ctx))

	stats := tc.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, testDB, stats[0].Name)
	assert.Equal(t, 1, stats[0].Len)
	assert.Equal(t, 0, stats[1].Len)
}

func TestEvictionLRU(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 2
		cfg.ShardCount = 1
		cfg.EvictionPolicy = tinycache.LRU
	})

	require.NoError(t, tc.Insert(ctx, testDB, "a", model.TypeKeyValue, model.NewString("a"), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "b", model.TypeKeyValue, model.NewString("b"), 0))

	_, err := tc.Get(ctx, testDB, "a", model.TypeKeyValue)
	require.NoError(t, err)

	require.NoError(t, tc.Insert(ctx, testDB, "c", model.TypeKeyValue, model.NewString("c"), 0))

	_, err = tc.Get(ctx, testDB, "b", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)

	for _, k := range []string{"a", "c"} {
		_, err := tc.Get(ctx, testDB, k, model.TypeKeyValue)
		assert.NoError(t, err, k)
	}

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, tinycache.LRU, stats.Policy)
}

func TestEvictionCleansIndexes(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 1
		cfg.ShardCount = 1
		cfg.EvictionPolicy = tinycache.LRU
	})

	require.NoError(t, tc.Insert(ctx, testDB, "h", model.TypeHybrid, model.NewHybrid(map[string]any{"tag": "x"}, []float32{1, 2}), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "k", model.TypeKeyValue, model.NewString("v"), 0))

	docs, err := tc.QueryDocuments(ctx, testDB, "tag", "x")
	require.NoError(t, err)
	assert.Empty(t, docs)

	hits, err := tc.NearestVectors(ctx, testDB, []float32{1, 2}, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Zero(t, stats.Postings)
	assert.Zero(t, stats.Vectors)
}

func TestCapacityRejected(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 2
		cfg.ShardCount = 1
		cfg.EvictionPolicy = tinycache.NoEviction
	})

	require.NoError(t, tc.Insert(ctx, testDB, "a", model.TypeKeyValue, model.NewString("a"), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "b", model.TypeKeyValue, model.NewString("b"), 0))

	err := tc.Insert(ctx, testDB, "c", model.TypeKeyValue, model.NewString("c"), 0)
	assert.ErrorIs(t, err, tinycache.ErrCapacityRejected)

	// Replacing a live key needs no room.
	require.NoError(t, tc.Insert(ctx, testDB, "a", model.TypeKeyValue, model.NewString("a2"), 0))

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Len)
}

func TestShardCapacityInvariant(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 64
		cfg.ShardCount = 4
	})

	rng := testutil.NewRNG(7)
	for range 1000 {
		require.NoError(t, tc.Insert(ctx, testDB, rng.Key(8), model.TypeKeyValue, model.NewString("v"), 0))
	}

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ShardCount)
	for i, load := range stats.ShardLoads {
		assert.LessOrEqual(t, load, stats.ShardCapacity, "shard %d", i)
	}
	assert.LessOrEqual(t, stats.Len, 64)
}

func TestQueryDocumentsExact(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "dA", model.TypeDocument, model.NewDocument(map[string]any{"status": "shipped"}), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "dB", model.TypeDocument, model.NewDocument(map[string]any{"status": "pending"}), 0))

	docs, err := tc.QueryDocuments(ctx, testDB, "status", "shipped")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dA", docs[0].Key)
	assert.Equal(t, model.TypeDocument, docs[0].Type)
	assert.Equal(t, "shipped", docs[0].Fields["status"])

	// Updating a document drops its stale postings.
	require.NoError(t, tc.Insert(ctx, testDB, "dA", model.TypeDocument, model.NewDocument(map[string]any{"status": "pending"}), 0))

	docs, err = tc.QueryDocuments(ctx, testDB, "status", "shipped")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = tc.QueryDocuments(ctx, testDB, "status", "pending")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "dA", docs[0].Key)
	assert.Equal(t, "dB", docs[1].Key)
}

func TestQueryDocumentsNumericValues(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "d", model.TypeDocument, model.NewDocument(map[string]any{"n": 42}), 0))

	docs, err := tc.QueryDocuments(ctx, testDB, "n", 42.0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = tc.QueryDocuments(ctx, testDB, "n", "42")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAddIndexRegisteredFields(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.IndexMode = tinycache.IndexRegisteredFields
	})

	require.NoError(t, tc.Insert(ctx, testDB, "d1", model.TypeDocument, model.NewDocument(map[string]any{"city": "berlin"}), 0))

	_, err := tc.QueryDocuments(ctx, testDB, "city", "berlin")
	require.ErrorIs(t, err, tinycache.ErrFieldNotIndexed)

	require.NoError(t, tc.AddIndex(ctx, testDB, "city"))

	docs, err := tc.QueryDocuments(ctx, testDB, "city", "berlin")
	require.NoError(t, err)
	assert.Empty(t, docs, "existing documents need a backfill")

	require.NoError(t, tc.Insert(ctx, testDB, "d2", model.TypeDocument, model.NewDocument(map[string]any{"city": "berlin"}), 0))

	docs, err = tc.QueryDocuments(ctx, testDB, "city", "berlin")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d2", docs[0].Key)

	require.NoError(t, tc.AddIndex(ctx, testDB, "zip"))
	require.NoError(t, tc.Insert(ctx, testDB, "d3", model.TypeDocument, model.NewDocument(map[string]any{"zip": "10115"}), 0))

	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.True(t, stats.RegisteredOnly)
	assert.Equal(t, []string{"city", "zip"}, stats.IndexedFields)
}

func TestAddIndexBackfill(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.IndexMode = tinycache.IndexRegisteredFields
	})

	for i := range 10 {
		doc := model.NewDocument(map[string]any{"parity": i % 2})
		require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("d%02d", i), model.TypeDocument, doc, 0))
	}

	require.NoError(t, tc.AddIndex(ctx, testDB, "parity", tinycache.WithBackfill()))

	docs, err := tc.QueryDocuments(ctx, testDB, "parity", 1)
	require.NoError(t, err)
	require.Len(t, docs, 5)
	assert.Equal(t, "d01", docs[0].Key)
	assert.Equal(t, "d09", docs[4].Key)
}

func TestNearestVectorsDeterministic(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.VectorMetric = distance.MetricL2
	})

	vectors := map[string][]float32{
		"v1": {0, 0},
		"v2": {1, 0},
		"v3": {0, 2},
		"v4": {3, 3},
		"v5": {1, 0}, // ties with v2
	}
	for _, k := range []string{"v1", "v2", "v3", "v4", "v5"} {
		require.NoError(t, tc.Insert(ctx, testDB, k, model.TypeVector, model.NewVector(vectors[k], map[string]any{"name": k}), 0))
	}

	query := []float32{1.1, 0}
	first, err := tc.NearestVectors(ctx, testDB, query, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "v2", first[0].Key)
	assert.Equal(t, "v5", first[1].Key)
	assert.Equal(t, "v2", first[0].Metadata["name"])
	assert.InDelta(t, 0.01, first[0].Score, 1e-6)

	for range 10 {
		again, err := tc.NearestVectors(ctx, testDB, query, 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNearestVectorsMatchesExactTopK(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.VectorMetric = distance.MetricCosine
		cfg.VectorDimension = 16
	})

	rng := testutil.NewRNG(42)
	vectors := rng.UniformVectors(200, 16)
	for i, v := range vectors {
		require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("v%03d", i), model.TypeVector, model.NewVector(v, nil), 0))
	}

	fn, err := distance.Provider(distance.MetricCosine)
	require.NoError(t, err)

	query := rng.UniformVectors(1, 16)[0]
	want := testutil.ExactTopK(query, vectors, 10, fn, true)

	got, err := tc.NearestVectors(ctx, testDB, query, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, idx := range want {
		assert.Equal(t, fmt.Sprintf("v%03d", idx), got[i].Key, "rank %d", i)
	}
}

func TestNearestVectorsErrors(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.VectorDimension = 3
	})

	_, err := tc.NearestVectors(ctx, testDB, []float32{1, 2, 3}, 0)
	assert.ErrorIs(t, err, tinycache.ErrInvalidK)

	err = tc.Insert(ctx, testDB, "bad", model.TypeVector, model.NewVector([]float32{1, 2}, nil), 0)
	var dm *tinycache.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = tc.Get(ctx, testDB, "bad", model.TypeVector)
	assert.ErrorIs(t, err, tinycache.ErrNotFound, "a rejected vector is not stored")
}

func TestHybridSharesKeyWithVector(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.Insert(ctx, testDB, "x", model.TypeVector, model.NewVector([]float32{0, 1}, nil), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "x", model.TypeHybrid, model.NewHybrid(map[string]any{"kind": "h"}, []float32{0, 2}), 0))

	hits, err := tc.NearestVectors(ctx, testDB, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, model.TypeVector, hits[0].Type)
	assert.Equal(t, model.TypeHybrid, hits[1].Type)
	assert.Equal(t, "h", hits[1].Fields["kind"])

	require.NoError(t, tc.Delete(ctx, testDB, "x", model.TypeVector))

	hits, err = tc.NearestVectors(ctx, testDB, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, model.TypeHybrid, hits[0].Type)
}

func TestDatabases(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	require.NoError(t, tc.CreateDatabase(ctx, "b", tinycache.DefaultDatabaseConfig()))
	require.NoError(t, tc.CreateDatabase(ctx, "a", tinycache.DefaultDatabaseConfig()))

	err := tc.CreateDatabase(ctx, "a", tinycache.DefaultDatabaseConfig())
	assert.ErrorIs(t, err, tinycache.ErrDatabaseExists)

	err = tc.CreateDatabase(ctx, "c", tinycache.DatabaseConfig{})
	assert.ErrorIs(t, err, tinycache.ErrInvalidConfig)

	assert.Equal(t, []string{"a", "b", testDB}, tc.Databases())

	require.NoError(t, tc.Insert(ctx, "a", "k", model.TypeKeyValue, model.NewString("v"), 0))
	require.NoError(t, tc.DropDatabase(ctx, "a"))

	_, err = tc.Get(ctx, "a", "k", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrDatabaseNotFound)
	assert.ErrorIs(t, tc.DropDatabase(ctx, "a"), tinycache.ErrDatabaseNotFound)

	// A recreated database starts empty.
	require.NoError(t, tc.CreateDatabase(ctx, "a", tinycache.DefaultDatabaseConfig()))
	_, err = tc.Get(ctx, "a", "k", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrNotFound)

	cfg, err := tc.Config("a")
	require.NoError(t, err)
	assert.Equal(t, tinycache.DefaultDatabaseConfig(), cfg)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, nil)

	for i := range 20 {
		require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("k%02d", i), model.TypeKeyValue, model.NewString("v"), 0))
	}

	seen := make(map[string]bool)
	require.NoError(t, tc.Scan(ctx, testDB, func(key string, it model.Item) bool {
		seen[key] = true
		it.Value.(*model.KeyValue).Str = "mutated"
		return true
	}))
	assert.Len(t, seen, 20)

	v, err := tc.Get(ctx, testDB, "k00", model.TypeKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "v", kvString(t, v))

	n := 0
	require.NoError(t, tc.Scan(ctx, testDB, func(string, model.Item) bool {
		n++
		return n < 5
	}))
	assert.Equal(t, 5, n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, tc.Scan(cancelled, testDB, func(string, model.Item) bool { return true }), context.Canceled)
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()
	mc := &tinycache.BasicMetricsCollector{}
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 1
		cfg.ShardCount = 1
	}, tinycache.WithMetricsCollector(mc))

	require.NoError(t, tc.Insert(ctx, testDB, "a", model.TypeKeyValue, model.NewString("v"), 0))
	require.NoError(t, tc.Insert(ctx, testDB, "b", model.TypeKeyValue, model.NewString("v"), 0))
	_, _ = tc.Get(ctx, testDB, "a", model.TypeKeyValue)
	_, _ = tc.Get(ctx, testDB, "b", model.TypeKeyValue)
	_, _ = tc.QueryDocuments(ctx, testDB, "f", "v")

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(1), stats.GetHits)
	assert.Equal(t, int64(1), stats.GetMisses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	tc := openTest(t, func(cfg *tinycache.DatabaseConfig) {
		cfg.MaxSize = 128
		cfg.ShardCount = 8
		cfg.VectorDimension = 4
	})

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := testutil.NewRNG(int64(w))
			for i := range 200 {
				key := fmt.Sprintf("k%d", rng.Intn(300))
				switch i % 5 {
				case 0:
					_ = tc.Insert(ctx, testDB, key, model.TypeHybrid,
						model.NewHybrid(map[string]any{"w": w}, rng.UniformVectors(1, 4)[0]), 0)
				case 1:
					_, _ = tc.Get(ctx, testDB, key, model.TypeHybrid)
				case 2:
					_ = tc.Delete(ctx, testDB, key, model.TypeHybrid)
				case 3:
					_, _ = tc.QueryDocuments(ctx, testDB, "w", w)
				case 4:
					_, _ = tc.NearestVectors(ctx, testDB, rng.UniformVectors(1, 4)[0], 3)
				}
			}
		}(w)
	}
	wg.Wait()

	// Both indexes hold exactly the stored items.
	stats, err := tc.Stats(testDB)
	require.NoError(t, err)
	assert.Equal(t, stats.Len, stats.Vectors)
	assert.Equal(t, stats.Len, stats.IndexedDocs)
}
