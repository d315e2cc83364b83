// Package testutil provides testing utilities for tinycache.
//
// This package is intended for use in tests only.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(100, 16)
//	key := rng.Key(8)
//
// # Exact Search (Ground Truth)
//
//	keys := testutil.ExactTopK(query, vectors, k, distance.SquaredL2, false)
//
// # Clock
//
//	clk := testutil.NewClock(time.Unix(0, 0))
//	clk.Advance(time.Second)
package testutil
