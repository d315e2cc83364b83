// Package cache implements the sharded item store of one database.
//
// A Cache partitions keys over a power-of-two number of shards. Each shard
// owns its item map and eviction tracker behind its own RWMutex, so
// operations on different shards never contend.
//
// # Routing
//
// RoutingHash places a key on xxhash(database, key, type) & (shards-1).
// RoutingLoadAware places a new key whose home shard is full on the least
// loaded shard instead and records the placement in a directory.
//
// # Eviction
//
//   - PolicyLRU: evict the least recently touched item of the shard.
//   - PolicyLFU: evict the least frequently used item, oldest access first.
//   - PolicyLFRU: sweep items below the frequency threshold (and expired
//     items), then evict from the recency head if still full.
//   - PolicyNoEviction: reject new keys once the shard is full.
//
// # Hooks
//
// OnStore and OnRemove run while the owning shard lock is held. Callers use
// them to keep secondary indexes consistent (lock order: shard, then index)
// and to log removals.
package cache
