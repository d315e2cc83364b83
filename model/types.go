package model

import (
	"fmt"
	"strings"
	"time"
)

// EntryType tags the variant stored under a key.
type EntryType uint8

const (
	// TypeKeyValue stores a *KeyValue.
	TypeKeyValue EntryType = iota + 1
	// TypeDocument stores a *Document.
	TypeDocument
	// TypeChannel stores a *Channel.
	TypeChannel
	// TypeStream stores a *Stream.
	TypeStream
	// TypeQueue stores a *Queue.
	TypeQueue
	// TypeVector stores a *Vector.
	TypeVector
	// TypeHybrid stores a *Hybrid.
	TypeHybrid
)

var entryTypeNames = map[EntryType]string{
	TypeKeyValue: "keyvalue",
	TypeDocument: "document",
	TypeChannel:  "pubsub",
	TypeStream:   "stream",
	TypeQueue:    "queue",
	TypeVector:   "vector",
	TypeHybrid:   "hybrid",
}

// String returns the stable name of the entry type.
func (t EntryType) String() string {
	if s, ok := entryTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	_, ok := entryTypeNames[t]
	return ok
}

// ParseEntryType parses the stable name of an entry type (case-insensitive).
func ParseEntryType(s string) (EntryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range entryTypeNames {
		if name == s {
			return t, nil
		}
	}

	return 0, fmt.Errorf("model: unknown entry type %q", s)
}

// CacheKey is the composite identity of a stored item.
type CacheKey struct {
	Database string
	Key      string
	Type     EntryType
}

// String returns a string representation of the key.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%s:%s", k.Database, k.Type, k.Key)
}

// Item is a stored value plus its eviction and expiry bookkeeping.
type Item struct {
	Value      Value
	Frequency  uint32
	CreatedAt  time.Time
	LastAccess time.Time
	// ExpiresAt is zero for items without a TTL.
	ExpiresAt time.Time
	// LSN is the log sequence number of the last logged mutation.
	LSN uint64
}

// Expired reports whether the item is past its expiry at now.
func (it *Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && !now.Before(it.ExpiresAt)
}

// Touch records an access at now.
func (it *Item) Touch(now time.Time) {
	it.Frequency++
	it.LastAccess = now
}

// ExpiryFor returns the absolute expiry for a ttl relative to now.
// A non-positive ttl yields the zero time.
func ExpiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}

	return now.Add(ttl)
}
