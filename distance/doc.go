// Package distance provides vector distance and similarity functions.
//
// # Supported Metrics
//
//   - MetricL2: squared Euclidean distance, lower is closer (default)
//   - MetricCosine: cosine similarity, higher is closer
//   - MetricDot: dot product, higher is closer
//
// # Usage
//
//	dist := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
//	fn, _ := distance.Provider(distance.MetricCosine)
package distance
