package lang

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"codetrace/internal/logging"
)

// Registry maps file extensions to language backends. Lookups for
// unclaimed extensions return no backend; the caller decides how to
// report that.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register claims every extension the backend reports. Later
// registrations win when extensions collide.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range b.Extensions() {
		normalized := normalizeExtension(ext)
		if normalized == "" {
			continue
		}
		r.backends[normalized] = b
		logging.ParserDebug("registered %s backend for %s", b.Name(), normalized)
	}
}

// ForFile resolves the backend for path by its extension. The second
// return is false when no backend claims the extension.
func (r *Registry) ForFile(path string) (Backend, bool) {
	return r.ByExtension(filepath.Ext(path))
}

// ByExtension resolves a backend by extension, with or without the
// leading dot, case-insensitively.
func (r *Registry) ByExtension(ext string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[normalizeExtension(ext)]
	return b, ok
}

// Supported reports whether some backend claims path's extension.
func (r *Registry) Supported(path string) bool {
	_, ok := r.ForFile(path)
	return ok
}

// SupportedExtensions returns every claimed extension, sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.backends))
	for ext := range r.backends {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Languages returns the distinct backend names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, b := range r.backends {
		seen[b.Name()] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backends returns the distinct registered backends, sorted by name.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]Backend)
	for _, b := range r.backends {
		seen[b.Name()] = b
	}
	out := make([]Backend, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// DefaultRegistry builds a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewCBackend())
	r.Register(NewPythonBackend())
	r.Register(NewGoBackend())
	return r
}
