package cache

import (
	"container/list"
	"slices"

	"github.com/hupe1980/tinycache/model"
)

// entry is the shard-resident form of an item.
type entry struct {
	key  model.CacheKey
	item model.Item

	// elem is the position in the recency list or frequency bucket.
	elem *list.Element
	// bucket is the frequency the entry is filed under (LFU only).
	bucket uint32
}

// tracker orders the entries of one shard for eviction. Every entry in the
// item map is filed exactly once.
type tracker interface {
	add(e *entry)
	touch(e *entry)
	remove(e *entry)
	// victim returns the next entry to evict, or nil.
	victim() *entry
	// each visits entries from the eviction end.
	each(fn func(e *entry) bool)
	len() int
}

func newTracker(p Policy) tracker {
	if p == PolicyLFU {
		return newLFUTracker()
	}

	return newLRUTracker()
}

// lruTracker is a recency list: head is least recently touched.
type lruTracker struct {
	ll *list.List
}

func newLRUTracker() *lruTracker { return &lruTracker{ll: list.New()} }

func (t *lruTracker) add(e *entry) { e.elem = t.ll.PushBack(e) }

func (t *lruTracker) touch(e *entry) { t.ll.MoveToBack(e.elem) }

func (t *lruTracker) remove(e *entry) {
	t.ll.Remove(e.elem)
	e.elem = nil
}

func (t *lruTracker) victim() *entry {
	if f := t.ll.Front(); f != nil {
		return f.Value.(*entry)
	}

	return nil
}

func (t *lruTracker) each(fn func(e *entry) bool) {
	for el := t.ll.Front(); el != nil; {
		next := el.Next()
		if !fn(el.Value.(*entry)) {
			return
		}

		el = next
	}
}

func (t *lruTracker) len() int { return t.ll.Len() }

// lfuTracker files entries in per-frequency lists. Within a bucket the
// front is the oldest access, which breaks frequency ties.
type lfuTracker struct {
	buckets map[uint32]*list.List
	minFreq uint32
	n       int
}

func newLFUTracker() *lfuTracker {
	return &lfuTracker{buckets: make(map[uint32]*list.List)}
}

func (t *lfuTracker) push(e *entry) {
	f := e.item.Frequency

	b, ok := t.buckets[f]
	if !ok {
		b = list.New()
		t.buckets[f] = b
	}

	e.bucket = f
	e.elem = b.PushBack(e)

	if t.n == 0 || f < t.minFreq {
		t.minFreq = f
	}

	t.n++
}

func (t *lfuTracker) pull(e *entry) {
	b := t.buckets[e.bucket]
	b.Remove(e.elem)
	e.elem = nil
	t.n--

	if b.Len() > 0 {
		return
	}

	delete(t.buckets, e.bucket)

	if e.bucket == t.minFreq {
		t.resetMin()
	}
}

func (t *lfuTracker) resetMin() {
	first := true
	for f := range t.buckets {
		if first || f < t.minFreq {
			t.minFreq = f
			first = false
		}
	}
}

func (t *lfuTracker) add(e *entry) { t.push(e) }

func (t *lfuTracker) touch(e *entry) {
	t.pull(e)
	t.push(e)
}

func (t *lfuTracker) remove(e *entry) { t.pull(e) }

func (t *lfuTracker) victim() *entry {
	if t.n == 0 {
		return nil
	}

	return t.buckets[t.minFreq].Front().Value.(*entry)
}

func (t *lfuTracker) each(fn func(e *entry) bool) {
	freqs := make([]uint32, 0, len(t.buckets))
	for f := range t.buckets {
		freqs = append(freqs, f)
	}

	slices.Sort(freqs)

	for _, f := range freqs {
		b, ok := t.buckets[f]
		if !ok {
			continue
		}

		for el := b.Front(); el != nil; {
			next := el.Next()
			if !fn(el.Value.(*entry)) {
				return
			}

			el = next
		}
	}
}

func (t *lfuTracker) len() int { return t.n }
