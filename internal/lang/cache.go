package lang

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Analysis bundles the two pre-instrumentation passes for one file.
type Analysis struct {
	Symbols *SymbolTable
	Meta    *Metadata
}

// AnalysisCache memoizes analysis results keyed by backend, path, and
// content hash, so repeated runs over an unchanged file skip the
// analysis walks. Content participates in the key, which means edits
// invalidate entries without any explicit eviction.
type AnalysisCache struct {
	entries *lru.Cache[string, *Analysis]
}

func NewAnalysisCache(size int) (*AnalysisCache, error) {
	if size <= 0 {
		size = 128
	}
	entries, err := lru.New[string, *Analysis](size)
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{entries: entries}, nil
}

// Key derives the cache key for a source file.
func (c *AnalysisCache) Key(backend, path string, src []byte) string {
	sum := sha256.Sum256(src)
	return backend + ":" + path + ":" + hex.EncodeToString(sum[:])
}

func (c *AnalysisCache) Get(key string) (*Analysis, bool) {
	return c.entries.Get(key)
}

func (c *AnalysisCache) Add(key string, a *Analysis) {
	c.entries.Add(key, a)
}

func (c *AnalysisCache) Len() int {
	return c.entries.Len()
}
