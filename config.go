package tinycache

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/tinycache/distance"
	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/internal/docindex"
)

// EvictionPolicy selects how a full shard makes room.
type EvictionPolicy = cache.Policy

const (
	// LFRU sweeps items below the frequency threshold, then evicts by recency.
	LFRU = cache.PolicyLFRU
	// LRU evicts the least recently used item.
	LRU = cache.PolicyLRU
	// LFU evicts the least frequently used item, oldest access first on ties.
	LFU = cache.PolicyLFU
	// NoEviction rejects new keys on a full shard with ErrCapacityRejected.
	NoEviction = cache.PolicyNoEviction
)

// ParseEvictionPolicy parses "lfru", "lru", "lfu" or "noeviction".
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	p, err := cache.ParsePolicy(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// Routing selects shard placement of new keys.
type Routing = cache.Routing

const (
	// HashRouting places every key on the shard its hash selects.
	HashRouting = cache.RoutingHash
	// LoadAwareRouting places new keys on the least-loaded shard when their
	// home shard is full.
	LoadAwareRouting = cache.RoutingLoadAware
)

// ParseRouting parses "hash" or "load-aware".
func ParseRouting(s string) (Routing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hash", "":
		return HashRouting, nil
	case "load-aware", "loadaware":
		return LoadAwareRouting, nil
	default:
		return 0, fmt.Errorf("%w: unknown routing %q", ErrInvalidConfig, s)
	}
}

// IndexMode selects which document fields are indexed.
type IndexMode = docindex.Mode

const (
	// IndexAllFields indexes every top-level document field.
	IndexAllFields = docindex.AllFields
	// IndexRegisteredFields indexes only fields added with AddIndex.
	IndexRegisteredFields = docindex.RegisteredFields
)

// ParseIndexMode parses "all" or "registered".
func ParseIndexMode(s string) (IndexMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return IndexAllFields, nil
	case "registered":
		return IndexRegisteredFields, nil
	default:
		return 0, fmt.Errorf("%w: unknown index mode %q", ErrInvalidConfig, s)
	}
}

// NoExpiry passed as ttl stores an item without expiry even when the
// database has a DefaultTTL.
const NoExpiry time.Duration = -1

// DatabaseConfig configures one database.
type DatabaseConfig struct {
	// MaxSize caps the live items of the database. It is enforced per shard
	// as MaxSize / ShardCount.
	MaxSize int `json:"max_size"`

	// ShardCount is rounded up to a power of two. 0 selects GOMAXPROCS.
	ShardCount int `json:"shard_count"`

	EvictionPolicy EvictionPolicy `json:"eviction_policy"`

	// FrequencyThreshold is the LFRU sweep cutoff.
	FrequencyThreshold uint32 `json:"frequency_threshold"`

	// StalenessFilter additionally requires an LFRU sweep candidate to be
	// idle for longer than TimeThreshold.
	StalenessFilter bool          `json:"staleness_filter"`
	TimeThreshold   time.Duration `json:"time_threshold"`

	Routing Routing `json:"routing"`

	// DefaultTTL applies to inserts without a ttl. 0 disables it.
	DefaultTTL time.Duration `json:"default_ttl"`

	IndexMode IndexMode `json:"index_mode"`

	// VectorMetric ranks NearestVectors results.
	VectorMetric distance.Metric `json:"vector_metric"`

	// VectorDimension fixes the vector length. 0 lets the first insert decide.
	VectorDimension int `json:"vector_dimension"`

	MaxStreamSize  int `json:"max_stream_size"`
	MaxQueueSize   int `json:"max_queue_size"`
	MaxSubscribers int `json:"max_subscribers"`
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MaxSize:            1200,
		EvictionPolicy:     LFRU,
		FrequencyThreshold: 5,
		TimeThreshold:      time.Hour,
		Routing:            HashRouting,
		IndexMode:          IndexAllFields,
		VectorMetric:       distance.MetricL2,
		MaxStreamSize:      1000,
		MaxQueueSize:       1000,
		MaxSubscribers:     100,
	}
}

// Validate reports the first invalid setting.
func (c DatabaseConfig) Validate() error {
	switch {
	case c.MaxSize < 1:
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	case c.ShardCount < 0:
		return fmt.Errorf("%w: shard count %d", ErrInvalidConfig, c.ShardCount)
	case c.EvictionPolicy > NoEviction:
		return fmt.Errorf("%w: eviction policy %d", ErrInvalidConfig, c.EvictionPolicy)
	case c.StalenessFilter && c.TimeThreshold <= 0:
		return fmt.Errorf("%w: staleness filter needs a positive time threshold", ErrInvalidConfig)
	case c.Routing > LoadAwareRouting:
		return fmt.Errorf("%w: routing %d", ErrInvalidConfig, c.Routing)
	case c.DefaultTTL < 0:
		return fmt.Errorf("%w: default ttl %s", ErrInvalidConfig, c.DefaultTTL)
	case c.IndexMode > IndexRegisteredFields:
		return fmt.Errorf("%w: index mode %d", ErrInvalidConfig, c.IndexMode)
	case c.VectorDimension < 0:
		return fmt.Errorf("%w: vector dimension %d", ErrInvalidConfig, c.VectorDimension)
	case c.MaxStreamSize < 0, c.MaxQueueSize < 0, c.MaxSubscribers < 0:
		return fmt.Errorf("%w: messaging limits must not be negative", ErrInvalidConfig)
	}

	if _, err := distance.Provider(c.VectorMetric); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
