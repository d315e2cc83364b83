package cache

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/tinycache/model"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: not found")
	// ErrCapacityRejected is returned when a full shard may not evict.
	ErrCapacityRejected = errors.New("cache: capacity rejected")
	// ErrExists is returned by an IfAbsent write to a live key.
	ErrExists = errors.New("cache: key exists")

	errAbsent = errors.New("cache: absent")
)

// Write describes a store operation.
type Write struct {
	Value model.Value
	// ExpiresAt is the absolute expiry; zero means none.
	ExpiresAt time.Time
	// MustExist turns the write into an update of a live key.
	MustExist bool
	// IfAbsent rejects the write with ErrExists when the key is live.
	IfAbsent bool
	// Commit runs after the value was stored, under the shard lock.
	Commit func(it *model.Item)
}

// Cache is the sharded item store of one database.
type Cache struct {
	opts     Options
	shards   []*shard
	mask     uint64
	perShard int

	// placeMu serializes new-key placement in load-aware mode.
	placeMu   sync.Mutex
	dirMu     sync.RWMutex
	directory map[model.CacheKey]int

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// New creates a Cache.
func New(optFns ...func(o *Options)) (*Cache, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSize < 1 {
		return nil, fmt.Errorf("cache: max size must be positive, got %d", opts.MaxSize)
	}

	if opts.Policy > PolicyNoEviction {
		return nil, fmt.Errorf("cache: invalid policy %d", opts.Policy)
	}

	if opts.ShardCount < 0 {
		return nil, fmt.Errorf("cache: invalid shard count %d", opts.ShardCount)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	n := ResolveShardCount(opts.MaxSize, opts.ShardCount)

	c := &Cache{
		opts:      opts,
		mask:      uint64(n - 1),
		perShard:  opts.MaxSize / n,
		directory: make(map[model.CacheKey]int),
	}

	c.opts.ShardCount = n

	c.shards = make([]*shard, n)
	for i := range c.shards {
		c.shards[i] = newShard(c, i, c.perShard)
	}

	return c, nil
}

// ResolveShardCount returns the shard count used for maxSize items when
// requested shards are asked for (0 selects GOMAXPROCS). The result is a
// power of two no larger than maxSize.
func ResolveShardCount(maxSize, requested int) int {
	n := requested
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	n = nextPow2(n)

	for n > 1 && maxSize/n < 1 {
		n >>= 1
	}

	return n
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}

	return 1 << bits.Len(uint(n-1))
}

// Options returns the resolved options.
func (c *Cache) Options() Options { return c.opts }

// ShardCount returns the number of shards.
func (c *Cache) ShardCount() int { return len(c.shards) }

// ShardCapacity returns the per-shard item cap.
func (c *Cache) ShardCapacity() int { return c.perShard }

// Route returns the home shard of key.
func (c *Cache) Route(key model.CacheKey) int {
	d := xxhash.New()
	_, _ = d.WriteString(key.Database)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key.Key)
	_, _ = d.Write([]byte{0, byte(key.Type)})

	return int(d.Sum64() & c.mask)
}

// ShardOf returns the shard currently responsible for key.
func (c *Cache) ShardOf(key model.CacheKey) int {
	if c.opts.Routing == RoutingLoadAware {
		c.dirMu.RLock()
		idx, ok := c.directory[key]
		c.dirMu.RUnlock()

		if ok {
			return idx
		}
	}

	return c.Route(key)
}

func (c *Cache) forget(key model.CacheKey) {
	if c.opts.Routing != RoutingLoadAware {
		return
	}

	c.dirMu.Lock()
	delete(c.directory, key)
	c.dirMu.Unlock()
}

func (c *Cache) now() time.Time { return c.opts.Now() }

func (c *Cache) onStore(key model.CacheKey, old, cur model.Value) error {
	if c.opts.OnStore == nil {
		return nil
	}

	return c.opts.OnStore(key, old, cur)
}

// Put stores a value. It returns the previous value of a live key, or nil.
func (c *Cache) Put(key model.CacheKey, w Write) (model.Value, error) {
	if w.Value == nil {
		return nil, errors.New("cache: nil value")
	}

	if w.Value.Type() != key.Type {
		return nil, &model.TypeMismatchError{Want: key.Type, Got: w.Value.Type()}
	}

	if c.opts.Routing != RoutingLoadAware || w.MustExist {
		return c.shards[c.ShardOf(key)].put(key, w, false, nil)
	}

	// Live keys are updated in place without placement serialization.
	old, err := c.shards[c.ShardOf(key)].put(key, w, true, nil)
	if !errors.Is(err, errAbsent) {
		return old, err
	}

	c.placeMu.Lock()
	defer c.placeMu.Unlock()

	idx := c.ShardOf(key)
	home := c.Route(key)

	if idx == home && !c.shards[idx].contains(key) && int(c.shards[idx].size.Load()) >= c.perShard {
		idx = c.leastLoaded(home)
	}

	var place func()
	if idx != home {
		place = func() {
			c.dirMu.Lock()
			c.directory[key] = idx
			c.dirMu.Unlock()
		}
	}

	return c.shards[idx].put(key, w, false, place)
}

// leastLoaded scans size snapshots without locking and returns the shard
// with the fewest items, preferring home on ties.
func (c *Cache) leastLoaded(home int) int {
	best := home
	bestSize := c.shards[home].size.Load()

	for i, s := range c.shards {
		if n := s.size.Load(); n < bestSize {
			best, bestSize = i, n
		}
	}

	return best
}

// Get returns a snapshot of the item and records an access. Expired items
// are removed and reported as absent.
func (c *Cache) Get(key model.CacheKey) (model.Item, bool) {
	return c.shards[c.ShardOf(key)].get(key)
}

// Peek returns a snapshot of the item without recording an access.
func (c *Cache) Peek(key model.CacheKey) (model.Item, bool) {
	return c.shards[c.ShardOf(key)].peek(key)
}

// Contains reports whether key is stored and not expired.
func (c *Cache) Contains(key model.CacheKey) bool {
	_, ok := c.Peek(key)
	return ok
}

// Update mutates a live item in place under its shard lock and records an
// access. fn must not change indexed content of documents or vectors.
func (c *Cache) Update(key model.CacheKey, fn func(it *model.Item) error) error {
	return c.shards[c.ShardOf(key)].update(key, fn)
}

// Delete removes key. commit runs under the shard lock after removal.
func (c *Cache) Delete(key model.CacheKey, commit func(it *model.Item)) bool {
	return c.shards[c.ShardOf(key)].delete(key, commit)
}

// Range visits every live item shard by shard. Each shard is observed
// consistently; there is no snapshot across shards. fn must not retain or
// mutate the item and must not call back into the cache.
func (c *Cache) Range(fn func(key model.CacheKey, it *model.Item) bool) {
	for _, s := range c.shards {
		if !s.scan(fn) {
			return
		}
	}
}

// SweepExpired removes expired items one shard at a time and returns the
// number removed.
func (c *Cache) SweepExpired() int {
	n := 0
	for _, s := range c.shards {
		n += s.sweep()
	}

	return n
}

// Len returns the number of stored items, including expired ones not yet
// removed.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		n += int(s.size.Load())
	}

	return n
}

// ShardLens returns the per-shard item counts.
func (c *Cache) ShardLens() []int {
	out := make([]int, len(c.shards))
	for i, s := range c.shards {
		out[i] = int(s.size.Load())
	}

	return out
}

// Clear drops every item without invoking hooks.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.clear()
	}

	c.dirMu.Lock()
	c.directory = make(map[model.CacheKey]int)
	c.dirMu.Unlock()
}
