// Package index defines the vector nearest-neighbor capability shared by all
// vector index strategies.
package index

import (
	"errors"
	"fmt"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Result is one ranked neighbor.
type Result struct {
	// Key is the key string of the stored vector.
	Key string
	// Score is the metric value: a distance for L2, a similarity for Dot and Cosine.
	Score float32
}

// VectorIndex holds (key, vector) pairs and answers top-k queries.
//
// Implementations are safe for concurrent use. Results are ordered closest
// first, ties broken by insertion order.
type VectorIndex interface {
	// Insert adds or replaces the vector stored for key.
	Insert(key string, vec []float32) error
	// Remove deletes key and reports whether it was present.
	Remove(key string) bool
	// Search returns up to k nearest neighbors of query.
	Search(query []float32, k int) ([]Result, error)
	// Len returns the number of stored vectors.
	Len() int
	// Dimension returns the fixed dimension, or 0 if not yet known.
	Dimension() int
}
