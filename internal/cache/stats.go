package cache

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Policy        Policy
	Routing       Routing
	MaxSize       int
	ShardCount    int
	ShardCapacity int
	Len           int
	ShardLoads    []int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Expirations   uint64
}

// HitRate returns hits / (hits + misses), or 0 without lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	loads := c.ShardLens()

	n := 0
	for _, l := range loads {
		n += l
	}

	return Stats{
		Policy:        c.opts.Policy,
		Routing:       c.opts.Routing,
		MaxSize:       c.opts.MaxSize,
		ShardCount:    len(c.shards),
		ShardCapacity: c.perShard,
		Len:           n,
		ShardLoads:    loads,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
	}
}
