package flat

import "fmt"

// Stats summarizes the index state.
type Stats struct {
	Metric    string
	Dimension int
	Vectors   int
}

// Stats returns a snapshot of index statistics.
func (f *Index) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{Metric: f.metric.String(), Dimension: f.dim, Vectors: len(f.entries)}
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("flat(metric=%s, dimension=%d, vectors=%d)", s.Metric, s.Dimension, s.Vectors)
}
