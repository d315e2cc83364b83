// Package docindex implements the ordered (field, value) -> key-set index
// over document values of one database.
package docindex

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	gojson "github.com/goccy/go-json"
	"github.com/google/btree"

	"github.com/hupe1980/tinycache/model"
)

// ErrFieldNotIndexed is returned when a lookup targets a field that is not
// registered in RegisteredFields mode.
var ErrFieldNotIndexed = errors.New("docindex: field not indexed")

// Mode selects which document fields are indexed.
type Mode uint8

const (
	// AllFields indexes every top-level field.
	AllFields Mode = iota
	// RegisteredFields indexes only fields added with Register.
	RegisteredFields
)

func (m Mode) String() string {
	if m == RegisteredFields {
		return "registered"
	}

	return "all"
}

type posting struct {
	field string
	value string
	ids   *roaring.Bitmap
}

func lessPosting(a, b *posting) bool {
	if a.field != b.field {
		return a.field < b.field
	}

	return a.value < b.value
}

// Index maps (field, canonical value) to the documents holding that pair.
//
// Keys are interned to dense ordinals so postings can live in roaring
// bitmaps. Ordinals are recycled once a key has no postings left.
type Index struct {
	mu         sync.RWMutex
	mode       Mode
	registered map[string]struct{}
	tree       *btree.BTreeG[*posting]

	ordinals map[model.CacheKey]uint32
	keys     []model.CacheKey
	refs     []int
	free     []uint32
}

// New returns an empty index.
func New(mode Mode) *Index {
	return &Index{
		mode:       mode,
		registered: make(map[string]struct{}),
		tree:       btree.NewG(32, lessPosting),
		ordinals:   make(map[model.CacheKey]uint32),
	}
}

// Mode returns the indexing mode.
func (ix *Index) Mode() Mode { return ix.mode }

// Register adds field to the indexed set. It reports whether the field was new.
func (ix *Index) Register(field string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.registered[field]; ok {
		return false
	}

	ix.registered[field] = struct{}{}

	return true
}

// Indexed reports whether writes to field are indexed.
func (ix *Index) Indexed(field string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.indexedLocked(field)
}

func (ix *Index) indexedLocked(field string) bool {
	if ix.mode == AllFields {
		return true
	}

	_, ok := ix.registered[field]

	return ok
}

// Put replaces the postings of key: entries of old are removed, entries of
// cur are added. Either may be nil.
func (ix *Index) Put(key model.CacheKey, old, cur map[string]any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for field, v := range old {
		if nv, ok := cur[field]; ok && Canonical(nv) == Canonical(v) {
			continue
		}

		ix.removeLocked(key, field, Canonical(v))
	}

	for field, v := range cur {
		if ix.indexedLocked(field) {
			ix.addLocked(key, field, Canonical(v))
		}
	}
}

// Add indexes a single field of key regardless of prior state. Used by backfill.
func (ix *Index) Add(key model.CacheKey, field string, value any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.addLocked(key, field, Canonical(value))
}

// Remove deletes every posting derived from fields for key.
func (ix *Index) Remove(key model.CacheKey, fields map[string]any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for field, v := range fields {
		ix.removeLocked(key, field, Canonical(v))
	}
}

// RemovePosting deletes the single (field, value) posting of key.
func (ix *Index) RemovePosting(key model.CacheKey, field string, value any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(key, field, Canonical(value))
}

// Lookup returns the keys whose document has field == value, ordered by key
// string then entry type.
func (ix *Index) Lookup(field string, value any) ([]model.CacheKey, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.mode == RegisteredFields {
		if _, ok := ix.registered[field]; !ok {
			return nil, ErrFieldNotIndexed
		}
	}

	p, ok := ix.tree.Get(&posting{field: field, value: Canonical(value)})
	if !ok {
		return nil, nil
	}

	out := make([]model.CacheKey, 0, p.ids.GetCardinality())

	it := p.ids.Iterator()
	for it.HasNext() {
		out = append(out, ix.keys[it.Next()])
	}

	slices.SortFunc(out, func(a, b model.CacheKey) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}

		return cmp.Compare(a.Type, b.Type)
	})

	return out, nil
}

// Fields returns the fields that currently have postings, in order.
func (ix *Index) Fields() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var fields []string

	ix.tree.Ascend(func(p *posting) bool {
		if len(fields) == 0 || fields[len(fields)-1] != p.field {
			fields = append(fields, p.field)
		}

		return true
	})

	return fields
}

// Registered returns the registered fields in order.
func (ix *Index) Registered() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.registered))
	for f := range ix.registered {
		out = append(out, f)
	}

	slices.Sort(out)

	return out
}

// Len returns the number of (field, value) postings.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.tree.Len()
}

// Keys returns the number of keys that have at least one posting.
func (ix *Index) Keys() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.ordinals)
}

// Clear drops every posting and interned key. Registered fields are kept.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.tree.Clear(false)
	ix.ordinals = make(map[model.CacheKey]uint32)
	ix.keys = nil
	ix.refs = nil
	ix.free = nil
}

func (ix *Index) addLocked(key model.CacheKey, field, value string) {
	p, ok := ix.tree.Get(&posting{field: field, value: value})
	if !ok {
		p = &posting{field: field, value: value, ids: roaring.New()}
		ix.tree.ReplaceOrInsert(p)
	}

	ord := ix.intern(key)
	if p.ids.CheckedAdd(ord) {
		ix.refs[ord]++
	}
}

func (ix *Index) removeLocked(key model.CacheKey, field, value string) {
	ord, ok := ix.ordinals[key]
	if !ok {
		return
	}

	probe := &posting{field: field, value: value}

	p, ok := ix.tree.Get(probe)
	if !ok || !p.ids.CheckedRemove(ord) {
		return
	}

	if p.ids.IsEmpty() {
		ix.tree.Delete(probe)
	}

	ix.refs[ord]--
	if ix.refs[ord] == 0 {
		delete(ix.ordinals, key)
		ix.keys[ord] = model.CacheKey{}
		ix.free = append(ix.free, ord)
	}
}

func (ix *Index) intern(key model.CacheKey) uint32 {
	if ord, ok := ix.ordinals[key]; ok {
		return ord
	}

	var ord uint32

	if n := len(ix.free); n > 0 {
		ord = ix.free[n-1]
		ix.free = ix.free[:n-1]
		ix.keys[ord] = key
	} else {
		ord = uint32(len(ix.keys))
		ix.keys = append(ix.keys, key)
		ix.refs = append(ix.refs, 0)
	}

	ix.ordinals[key] = ord

	return ord
}

// Canonical returns the index form of a field value: its JSON encoding
// with sorted object keys. Integral floats and ints encode alike.
func Canonical(v any) string {
	b, err := gojson.Marshal(v)
	if err != nil {
		return "\x00invalid"
	}

	return string(b)
}
