// Package flat provides an exact linear-scan vector index.
package flat

import (
	"sync"

	"github.com/hupe1980/tinycache/distance"
	"github.com/hupe1980/tinycache/index"
	"github.com/hupe1980/tinycache/internal/queue"
)

// Compile-time check to ensure Index satisfies index.VectorIndex.
var _ index.VectorIndex = (*Index)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension fixes the vector dimensionality. 0 means the first insert
	// decides it.
	Dimension int

	// Metric is the distance metric used for ranking.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Dimension: 0,
	Metric:    distance.MetricL2,
}

type entry struct {
	key string
	seq uint64
	vec []float32
}

// Index is an exact nearest-neighbor index over (key, vector) pairs.
type Index struct {
	mu      sync.RWMutex
	metric  distance.Metric
	fn      distance.Func
	dim     int
	nextSeq uint64
	entries []entry
	pos     map[string]int
}

// New creates a new flat index with the given options.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Index{
		metric: opts.Metric,
		fn:     fn,
		dim:    opts.Dimension,
		pos:    make(map[string]int),
	}, nil
}

// Metric returns the metric the index ranks by.
func (f *Index) Metric() distance.Metric { return f.metric }

// Insert adds or replaces the vector for key. A replaced vector takes a new
// insertion position.
func (f *Index) Insert(key string, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim == 0 {
		f.dim = len(vec)
	}

	if len(vec) != f.dim || len(vec) == 0 {
		return &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(vec)}
	}

	e := entry{key: key, seq: f.nextSeq, vec: append([]float32(nil), vec...)}
	f.nextSeq++

	if i, ok := f.pos[key]; ok {
		f.entries[i] = e
		return nil
	}

	f.pos[key] = len(f.entries)
	f.entries = append(f.entries, e)

	return nil
}

// Remove deletes key and reports whether it was present.
func (f *Index) Remove(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.pos[key]
	if !ok {
		return false
	}

	last := len(f.entries) - 1
	if i != last {
		f.entries[i] = f.entries[last]
		f.pos[f.entries[i].key] = i
	}

	f.entries[last] = entry{}
	f.entries = f.entries[:last]
	delete(f.pos, key)

	return true
}

// Search returns up to k nearest neighbors of query, closest first.
func (f *Index) Search(query []float32, k int) ([]index.Result, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.entries) == 0 {
		return nil, nil
	}

	if len(query) != f.dim {
		return nil, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(query)}
	}

	// Sequence numbers are unique, so they double as handles back to entries.
	bySeq := make(map[uint64]int, min(k, len(f.entries)))
	pq := queue.NewMax(min(k, len(f.entries)))

	higher := f.metric.HigherIsCloser()

	for i := range f.entries {
		e := &f.entries[i]

		d := f.fn(query, e.vec)
		if higher {
			d = -d
		}

		if pq.PushBounded(queue.PriorityQueueItem{Seq: e.seq, Distance: d}, k) {
			bySeq[e.seq] = i
		}
	}

	items := pq.Drain()
	results := make([]index.Result, len(items))

	for i, it := range items {
		score := it.Distance
		if higher {
			score = -score
		}

		results[i] = index.Result{Key: f.entries[bySeq[it.Seq]].key, Score: score}
	}

	return results, nil
}

// Len returns the number of stored vectors.
func (f *Index) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.entries)
}

// Dimension returns the fixed dimension, or 0 if not yet known.
func (f *Index) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.dim
}
