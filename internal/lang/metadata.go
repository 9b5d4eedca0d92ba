package lang

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const metadataTimeLayout = "2006-01-02 15:04:05"

// Metadata is an insertion-ordered set of string facts about a source
// file. Order matters: the instrumented program replays the entries as
// META records in the order they were collected, and downstream seed
// derivation hashes the full mapping.
type Metadata struct {
	keys   []string
	values map[string]string
}

func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// Set records key=value. Re-setting an existing key overwrites the value
// but keeps the key's original position.
func (m *Metadata) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// SetInt records key with a decimal value.
func (m *Metadata) SetInt(key string, value int) {
	m.Set(key, strconv.Itoa(value))
}

// Get returns the value for key and whether it was set.
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	return len(m.keys)
}

// Map returns the entries as a plain map.
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.keys))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// collectFileFacts fills the language-independent head of the metadata
// mapping: file identity, permissions, timestamps, language tag, and
// line counts. Language backends append their structural counts after
// these.
func collectFileFacts(path string, src []byte, language string) (*Metadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	text := string(src)
	nonBlank := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	modified, accessed, created := statTimes(fi)

	m := NewMetadata()
	m.Set("file_name", filepath.ToSlash(filepath.Base(path)))
	m.Set("file_path", filepath.ToSlash(abs))
	m.Set("file_size", strconv.FormatInt(fi.Size(), 10))
	m.Set("file_mode", fi.Mode().String())
	m.Set("modified", modified.Format(metadataTimeLayout))
	m.Set("accessed", accessed.Format(metadataTimeLayout))
	m.Set("created", created.Format(metadataTimeLayout))
	m.Set("language", language)
	m.SetInt("total_lines", strings.Count(text, "\n")+1)
	m.SetInt("non_blank_lines", nonBlank)
	return m, nil
}
