// Package index defines the vector index capability.
//
// # Index Interface
//
// Every strategy satisfies VectorIndex:
//
//	type VectorIndex interface {
//	    Insert(key string, vec []float32) error
//	    Remove(key string) bool
//	    Search(query []float32, k int) ([]Result, error)
//	    Len() int
//	    Dimension() int
//	}
//
// The baseline strategy is index/flat, an exact linear scan. A logarithmic
// approximate structure can replace it without changing callers.
//
// # Scores
//
// The metric is fixed per index (see package distance). For L2 the score is
// the squared distance and results ascend; for Dot and Cosine the score is
// the similarity and results descend.
package index
