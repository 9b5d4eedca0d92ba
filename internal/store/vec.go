//go:build sqlite_vec && cgo

package store

import (
	"encoding/binary"
	"fmt"
	"math"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"codetrace/internal/logging"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension with the
	// mattn/go-sqlite3 driver.
	vec.Auto()
}

// embeddingDim matches gemini-embedding-001 output.
const embeddingDim = 768

// probeVectorSearch checks whether vec0 virtual tables work on this
// connection by creating the embeddings table.
func (s *RunStore) probeVectorSearch() bool {
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS run_embeddings USING vec0(embedding float[%d])", embeddingDim))
	if err != nil {
		logging.StoreWarn("vec0 unavailable: %v", err)
		return false
	}
	return true
}

// SaveEmbedding attaches a trace-digest embedding to a run. The vector
// lands in the vec0 table keyed by the run's rowid; the raw blob is
// also kept on the runs row so Similar can reread the query vector.
func (s *RunStore) SaveEmbedding(runID string, embedding []float32) error {
	if !s.vectorExt {
		return ErrVectorSearchUnavailable
	}
	if len(embedding) != embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), embeddingDim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := serializeFloat32(embedding)
	if _, err := s.db.Exec("UPDATE runs SET embedding = ? WHERE id = ?", blob, runID); err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO run_embeddings (rowid, embedding)
		VALUES ((SELECT rowid FROM runs WHERE id = ?), ?)`, runID, blob)
	if err != nil {
		return fmt.Errorf("index embedding: %w", err)
	}
	logging.StoreDebug("embedded run %s", runID)
	return nil
}

// SimilarRun is one nearest-neighbor hit.
type SimilarRun struct {
	RunID    string
	FileName string
	Distance float64
}

// Similar returns the k runs whose trace embeddings are closest to the
// given run's, excluding the run itself.
func (s *RunStore) Similar(runID string, k int) ([]SimilarRun, error) {
	if !s.vectorExt {
		return nil, ErrVectorSearchUnavailable
	}
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var query []byte
	if err := s.db.QueryRow("SELECT embedding FROM runs WHERE id = ?", runID).Scan(&query); err != nil {
		return nil, fmt.Errorf("load query embedding: %w", err)
	}
	if len(query) == 0 {
		return nil, ErrVectorSearchUnavailable
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.file_name, e.distance
		FROM run_embeddings e
		JOIN runs r ON r.rowid = e.rowid
		WHERE e.embedding MATCH ? AND k = ? AND r.id != ?
		ORDER BY e.distance`, query, k+1, runID)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []SimilarRun
	for rows.Next() {
		var h SimilarRun
		if err := rows.Scan(&h.RunID, &h.FileName, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if len(hits) < k {
			hits = append(hits, h)
		}
	}
	return hits, rows.Err()
}

// serializeFloat32 encodes a vector in sqlite-vec's little-endian
// float32 blob format.
func serializeFloat32(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
