package permission

import (
	"errors"
	"strings"
	"sync"
)

// Registry maps route paths to bit positions within a [Mask].
type Registry struct {
	mu        sync.RWMutex
	pathToBit map[string]int
	bitToPath []string
	frozen    bool
}

// NewRegistry creates an empty route [Registry].
func NewRegistry() *Registry {
	return &Registry{
		pathToBit: make(map[string]int),
	}
}

// Register assigns the next available bit to path and returns it. Must be
// called before [Registry.Freeze].
func (r *Registry) Register(path string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	path = NormalizePath(path)
	if path == "" {
		return -1, errors.New("route path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return -1, errors.New("route path must start with /: " + path)
	}
	if _, exists := r.pathToBit[path]; exists {
		return -1, errors.New("route already registered: " + path)
	}

	nextBit := len(r.bitToPath)
	if nextBit >= MaxRoutes {
		return -1, errors.New("route limit exceeded")
	}

	r.pathToBit[path] = nextBit
	r.bitToPath = append(r.bitToPath, path)

	return nextBit, nil
}

// Bit returns the bit index for path, or false if the path is unknown.
func (r *Registry) Bit(path string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.pathToBit[NormalizePath(path)]
	return bit, ok
}

// Path returns the path registered at bit, or false if unassigned.
func (r *Registry) Path(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.bitToPath) {
		return "", false
	}
	return r.bitToPath[bit], true
}

// Paths returns all registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.bitToPath))
	copy(out, r.bitToPath)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered paths.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bitToPath)
}

// NormalizePath strips any query string or fragment. It does not trim
// trailing slashes or change case.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return path
}
