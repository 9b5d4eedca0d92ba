//go:build !(sqlite_vec && cgo)

package store

// Vector search needs the sqlite_vec build tag and cgo; without them
// the store degrades to history-only and similarity calls return
// ErrVectorSearchUnavailable.

func (s *RunStore) probeVectorSearch() bool { return false }

// SimilarRun is one nearest-neighbor hit.
type SimilarRun struct {
	RunID    string
	FileName string
	Distance float64
}

// SaveEmbedding reports that vector search is not compiled in.
func (s *RunStore) SaveEmbedding(runID string, embedding []float32) error {
	return ErrVectorSearchUnavailable
}

// Similar reports that vector search is not compiled in.
func (s *RunStore) Similar(runID string, k int) ([]SimilarRun, error) {
	return nil, ErrVectorSearchUnavailable
}
