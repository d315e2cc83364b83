package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/tinycache/model"
)

// Policy selects the eviction strategy.
type Policy uint8

const (
	// PolicyLFRU sweeps low-frequency items then evicts by recency.
	PolicyLFRU Policy = iota
	// PolicyLRU evicts the least recently used item.
	PolicyLRU
	// PolicyLFU evicts the least frequently used item.
	PolicyLFU
	// PolicyNoEviction rejects inserts into a full shard.
	PolicyNoEviction
)

func (p Policy) String() string {
	switch p {
	case PolicyLFRU:
		return "lfru"
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicyNoEviction:
		return "noeviction"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy parses a policy name (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lfru", "":
		return PolicyLFRU, nil
	case "lru":
		return PolicyLRU, nil
	case "lfu":
		return PolicyLFU, nil
	case "noeviction", "none":
		return PolicyNoEviction, nil
	default:
		return 0, fmt.Errorf("cache: unknown eviction policy %q", s)
	}
}

// Routing selects how new keys are placed on shards.
type Routing uint8

const (
	// RoutingHash places every key on its home shard.
	RoutingHash Routing = iota
	// RoutingLoadAware spills new keys off a full home shard.
	RoutingLoadAware
)

func (r Routing) String() string {
	if r == RoutingLoadAware {
		return "load-aware"
	}

	return "hash"
}

// RemovalReason tells OnRemove why an item left the cache.
type RemovalReason uint8

const (
	// Deleted is an explicit delete.
	Deleted RemovalReason = iota
	// Evicted is a capacity eviction.
	Evicted
	// Expired is a TTL removal.
	Expired
)

func (r RemovalReason) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case Evicted:
		return "evicted"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Options configures a Cache.
type Options struct {
	// MaxSize is the soft cap on live items, enforced per shard as
	// MaxSize / shard count.
	MaxSize int

	// ShardCount is rounded up to a power of two. 0 selects GOMAXPROCS.
	ShardCount int

	// Policy is the eviction policy.
	Policy Policy

	// FrequencyThreshold is the LFRU sweep cutoff.
	FrequencyThreshold uint32

	// StalenessFilter additionally requires an LFRU sweep candidate to be
	// idle for longer than TimeThreshold.
	StalenessFilter bool
	TimeThreshold   time.Duration

	// Routing selects shard placement of new keys.
	Routing Routing

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// OnStore runs before a value is stored. old is nil for new keys.
	// A non-nil error aborts the write with no state change.
	OnStore func(key model.CacheKey, old, cur model.Value) error

	// OnRemove runs after an item was removed.
	OnRemove func(key model.CacheKey, it *model.Item, reason RemovalReason)
}

// DefaultOptions contains the default configuration.
var DefaultOptions = Options{
	MaxSize:            1200,
	Policy:             PolicyLFRU,
	FrequencyThreshold: 5,
	TimeThreshold:      time.Hour,
	Routing:            RoutingHash,
}
