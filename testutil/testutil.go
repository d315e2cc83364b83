package testutil

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/tinycache/distance"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Key returns a random lowercase alphanumeric key of length n.
func (r *RNG) Key(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := make([]byte, n)
	for i := range b {
		b[i] = keyAlphabet[r.rand.Intn(len(keyAlphabet))]
	}

	return string(b)
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}

		vectors[i] = vec
	}

	return vectors
}

// ExactTopK returns the indexes of the k vectors closest to query, ties by
// position. higherIsCloser selects similarity ordering.
func ExactTopK(query []float32, vectors [][]float32, k int, fn distance.Func, higherIsCloser bool) []int {
	type scored struct {
		i int
		d float32
	}

	all := make([]scored, len(vectors))
	for i, v := range vectors {
		d := fn(query, v)
		if higherIsCloser {
			d = -d
		}

		all[i] = scored{i: i, d: d}
	}

	sort.SliceStable(all, func(a, b int) bool { return all[a].d < all[b].d })

	if k > len(all) {
		k = len(all)
	}

	out := make([]int, k)
	for i := range out {
		out[i] = all[i].i
	}

	return out
}

// Clock is a manually advanced clock for TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
