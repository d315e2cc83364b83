package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tinycache/model"
)

// shard is one independently locked partition of a Cache.
type shard struct {
	mu      sync.RWMutex
	id      int
	cap     int
	items   map[model.CacheKey]*entry
	tracker tracker

	// size mirrors len(items) for lock-free load snapshots.
	size atomic.Int64

	c *Cache
}

func newShard(c *Cache, id, capacity int) *shard {
	return &shard{
		id:      id,
		cap:     capacity,
		items:   make(map[model.CacheKey]*entry),
		tracker: newTracker(c.opts.Policy),
		c:       c,
	}
}

func (s *shard) contains(key model.CacheKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[key]

	return ok
}

// put stores w under key. With requirePresent an absent key yields
// errAbsent and no state change. place runs after a new key was stored.
func (s *shard) put(key model.CacheKey, w Write, requirePresent bool, place func()) (model.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.c.now()

	e, ok := s.items[key]
	if ok && e.item.Expired(now) {
		s.removeLocked(e, Expired)
		ok = false
	}

	if ok {
		if w.IfAbsent {
			return nil, ErrExists
		}

		if err := s.c.onStore(key, e.item.Value, w.Value); err != nil {
			return nil, err
		}

		old := e.item.Value
		e.item.Value = w.Value
		e.item.ExpiresAt = w.ExpiresAt
		e.item.Touch(now)
		s.tracker.touch(e)

		if w.Commit != nil {
			w.Commit(&e.item)
		}

		return old, nil
	}

	if requirePresent {
		return nil, errAbsent
	}

	if w.MustExist {
		return nil, ErrNotFound
	}

	if len(s.items) >= s.cap && s.c.opts.Policy == PolicyNoEviction {
		s.sweepLocked(now)

		if len(s.items) >= s.cap {
			return nil, ErrCapacityRejected
		}
	}

	if err := s.c.onStore(key, nil, w.Value); err != nil {
		return nil, err
	}

	s.makeRoomLocked(now)

	e = &entry{
		key: key,
		item: model.Item{
			Value:      w.Value,
			Frequency:  1,
			CreatedAt:  now,
			LastAccess: now,
			ExpiresAt:  w.ExpiresAt,
		},
	}

	s.items[key] = e
	s.tracker.add(e)
	s.size.Store(int64(len(s.items)))

	if place != nil {
		place()
	}

	if w.Commit != nil {
		w.Commit(&e.item)
	}

	return nil, nil
}

// makeRoomLocked frees one slot if the shard is full.
func (s *shard) makeRoomLocked(now time.Time) {
	if len(s.items) < s.cap {
		return
	}

	opts := &s.c.opts

	if opts.Policy == PolicyLFRU {
		s.tracker.each(func(e *entry) bool {
			switch {
			case e.item.Expired(now):
				s.removeLocked(e, Expired)
			case e.item.Frequency < opts.FrequencyThreshold &&
				(!opts.StalenessFilter || now.Sub(e.item.LastAccess) > opts.TimeThreshold):
				s.removeLocked(e, Evicted)
			}

			return true
		})
	}

	for len(s.items) >= s.cap {
		v := s.tracker.victim()
		if v == nil {
			return
		}

		s.removeLocked(v, Evicted)
	}
}

func (s *shard) get(key model.CacheKey) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		s.c.misses.Add(1)
		return model.Item{}, false
	}

	now := s.c.now()

	if e.item.Expired(now) {
		s.removeLocked(e, Expired)
		s.c.misses.Add(1)

		return model.Item{}, false
	}

	e.item.Touch(now)
	s.tracker.touch(e)
	s.c.hits.Add(1)

	return snapshot(&e.item), true
}

func (s *shard) peek(key model.CacheKey) (model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.item.Expired(s.c.now()) {
		return model.Item{}, false
	}

	return snapshot(&e.item), true
}

func (s *shard) update(key model.CacheKey, fn func(it *model.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}

	now := s.c.now()

	if e.item.Expired(now) {
		s.removeLocked(e, Expired)
		return ErrNotFound
	}

	if err := fn(&e.item); err != nil {
		return err
	}

	e.item.Touch(now)
	s.tracker.touch(e)

	return nil
}

func (s *shard) delete(key model.CacheKey, commit func(it *model.Item)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}

	if e.item.Expired(s.c.now()) {
		s.removeLocked(e, Expired)
		return false
	}

	s.removeLocked(e, Deleted)

	if commit != nil {
		commit(&e.item)
	}

	return true
}

// removeLocked drops e from the item map, the tracker and the placement
// directory, then reports it to OnRemove.
func (s *shard) removeLocked(e *entry, reason RemovalReason) {
	delete(s.items, e.key)
	s.tracker.remove(e)
	s.size.Store(int64(len(s.items)))
	s.c.forget(e.key)

	switch reason {
	case Evicted:
		s.c.evictions.Add(1)
	case Expired:
		s.c.expirations.Add(1)
	}

	if s.c.opts.OnRemove != nil {
		s.c.opts.OnRemove(e.key, &e.item, reason)
	}
}

func (s *shard) sweepLocked(now time.Time) int {
	n := 0

	s.tracker.each(func(e *entry) bool {
		if e.item.Expired(now) {
			s.removeLocked(e, Expired)
			n++
		}

		return true
	})

	return n
}

func (s *shard) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(s.c.now())
}

// scan visits live items in eviction order under the shared lock.
func (s *shard) scan(fn func(key model.CacheKey, it *model.Item) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.c.now()
	cont := true

	s.tracker.each(func(e *entry) bool {
		if e.item.Expired(now) {
			return true
		}

		cont = fn(e.key, &e.item)

		return cont
	})

	return cont
}

func (s *shard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[model.CacheKey]*entry)
	s.tracker = newTracker(s.c.opts.Policy)
	s.size.Store(0)
}

func snapshot(it *model.Item) model.Item {
	out := *it
	out.Value = it.Value.Clone()

	return out
}
