package tinycache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/tinycache/index"
	"github.com/hupe1980/tinycache/index/flat"
	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/internal/docindex"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// database is one named cache with its document and vector indexes.
//
// Every operation holds mu shared for its duration; DropDatabase takes it
// exclusively so no record of the dropped database is logged after its drop
// record. Lock order: TinyCache.mu, database.mu, shard, index.
type database struct {
	name string
	cfg  DatabaseConfig
	tc   *TinyCache

	mu         sync.RWMutex
	dropped    bool
	createdLSN uint64

	cache   *cache.Cache
	docs    *docindex.Index
	vectors index.VectorIndex
}

func newDatabase(tc *TinyCache, name string, cfg DatabaseConfig) (*database, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty database name", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := &database{
		name: name,
		cfg:  cfg,
		tc:   tc,
		docs: docindex.New(cfg.IndexMode),
	}

	vecs, err := flat.New(func(o *flat.Options) {
		o.Dimension = cfg.VectorDimension
		o.Metric = cfg.VectorMetric
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	db.vectors = vecs

	c, err := cache.New(func(o *cache.Options) {
		o.MaxSize = cfg.MaxSize
		o.ShardCount = cfg.ShardCount
		o.Policy = cfg.EvictionPolicy
		o.FrequencyThreshold = cfg.FrequencyThreshold
		o.StalenessFilter = cfg.StalenessFilter
		o.TimeThreshold = cfg.TimeThreshold
		o.Routing = cfg.Routing
		o.Now = tc.now
		o.OnStore = db.onStore
		o.OnRemove = db.onRemove
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	db.cache = c

	return db, nil
}

func (db *database) key(key string, typ model.EntryType) model.CacheKey {
	return model.CacheKey{Database: db.name, Key: key, Type: typ}
}

// expiry resolves the absolute expiry of a write at now. ttl 0 selects the
// database default; a negative ttl disables expiry.
func (db *database) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = db.cfg.DefaultTTL
	}
	return model.ExpiryFor(now, ttl)
}

// onStore keeps both indexes in step with a value about to be stored. It
// runs under the shard lock. A vector that does not fit the index aborts
// the write before any index changed.
func (db *database) onStore(key model.CacheKey, old, cur model.Value) error {
	if e, ok := cur.(model.Embedded); ok {
		if err := db.vectors.Insert(vectorID(key), e.Embedding()); err != nil {
			return err
		}
	}

	if f, ok := cur.(model.Fielded); ok {
		var prev map[string]any
		if o, ok := old.(model.Fielded); ok {
			prev = o.DocumentFields()
		}
		db.docs.Put(key, prev, f.DocumentFields())
	}

	return nil
}

// onRemove drops a removed item from the indexes and logs evictions. It
// runs under the shard lock.
func (db *database) onRemove(key model.CacheKey, it *model.Item, reason cache.RemovalReason) {
	if _, ok := it.Value.(model.Embedded); ok {
		if !db.vectors.Remove(vectorID(key)) {
			db.tc.logger.LogIndexInconsistency(context.Background(), key, "vector missing on removal")
		}
	}

	if f, ok := it.Value.(model.Fielded); ok {
		db.docs.Remove(key, f.DocumentFields())
	}

	if reason == cache.Deleted {
		return
	}

	db.tc.metrics.RecordRemoval(db.name, reason.String())

	if reason == cache.Evicted {
		_, err := db.tc.logAsync(&wal.Record{
			Kind:     wal.KindEvict,
			Database: key.Database,
			Key:      key.Key,
			Type:     key.Type,
		})
		if err != nil {
			db.tc.degraded(context.Background(), "evict", key, err)
		}
	}
}

// backfill indexes field of every live document. Shards are visited one at a
// time.
func (db *database) backfill(field string) int {
	n := 0
	db.cache.Range(func(key model.CacheKey, it *model.Item) bool {
		f, ok := it.Value.(model.Fielded)
		if !ok {
			return true
		}
		if v, ok := f.DocumentFields()[field]; ok {
			db.docs.Add(key, field, v)
			n++
		}
		return true
	})
	return n
}

// vectorID is the vector index key of a cache key. Vector and hybrid items
// may share a key string.
func vectorID(key model.CacheKey) string {
	return strconv.Itoa(int(key.Type)) + ":" + key.Key
}

func parseVectorID(id string) (string, model.EntryType, bool) {
	t, k, ok := strings.Cut(id, ":")
	if !ok {
		return "", 0, false
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return "", 0, false
	}
	return k, model.EntryType(n), true
}
