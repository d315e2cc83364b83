// Package tinycache provides an embedded, sharded, multi-model in-memory cache.
//
// A TinyCache instance holds named databases. Every database stores
// key-value pairs, JSON documents, pub/sub channels, event streams, FIFO
// queues, vectors and hybrid document+vector items under one sharded engine
// with pluggable eviction (LRU, LFU, LFRU or none) and per-item TTL.
//
// # Quick Start
//
//	ctx := context.Background()
//	tc, _ := tinycache.Open(ctx,
//	    tinycache.WithDatabase("app", tinycache.DefaultDatabaseConfig()),
//	)
//	defer tc.Close(ctx)
//
//	_ = tc.Insert(ctx, "app", "greeting", model.TypeKeyValue, model.NewString("hello"), time.Minute)
//	v, _ := tc.Get(ctx, "app", "greeting", model.TypeKeyValue)
//
// # Keys
//
// An item is identified by (database, key, entry type). A document and a
// vector may share a key string without colliding.
//
// # Indexes
//
// Documents and hybrids are indexed by top-level field in an ordered B-tree
// (every field, or only fields added with AddIndex under
// IndexRegisteredFields). QueryDocuments answers single-field equality
// lookups in key order:
//
//	docs, _ := tc.QueryDocuments(ctx, "app", "status", "shipped")
//
// Vectors and hybrids are held in a linear-scan index under a per-database
// metric. NearestVectors returns the k closest items, ties broken by
// insertion order:
//
//	hits, _ := tc.NearestVectors(ctx, "app", []float32{0.1, 0.2}, 5)
//
// Indexes are updated under the owning shard lock, so an item is indexed
// exactly while it is stored; evictions and expiry clean up both indexes.
//
// # Messaging
//
// Channels deliver to in-process subscribers without blocking. Streams keep
// the newest MaxStreamSize entries with increasing ids. Queues are bounded
// FIFOs that reject pushes when full.
//
// # Durability Model
//
// With WithWAL every mutation is appended to a write-ahead log while its
// shard lock is held, so the log order of each key matches its apply order.
// wal.SyncAlways makes the call wait for a group-commit fdatasync;
// wal.SyncEverySecond and wal.SyncNone trade the last interval for latency.
// A failed append leaves the mutation applied and returns
// ErrDurabilityDegraded.
//
// Checkpoint writes the live state to a checkpoint file and archives older
// segments, optionally to a blobstore. Open replays the newest checkpoint
// and the segments after it. Subscribers and published messages are not
// durable.
package tinycache
