// Package model defines the addressable unit of the cache and its payloads.
//
// # Identity
//
//   - CacheKey: (database, key, entry type). Two entry types may reuse the
//     same key string without colliding.
//
// # Values
//
// Value is a closed variant. Each entry type has exactly one concrete
// implementation:
//
//   - *KeyValue: string, JSON, ordered list or unordered set
//   - *Document: a JSON object whose fields may be indexed
//   - *Channel: a pub/sub channel with live subscriber handles
//   - *Stream: an append-only event stream bounded by MaxLen
//   - *Queue: a bounded FIFO of JSON messages
//   - *Vector: a fixed-length float array with optional metadata
//   - *Hybrid: a document and a vector stored under one key
//
// # Items
//
// Item carries a value together with its eviction and expiry bookkeeping.
package model
