package standalone

import "sync"

// Registry records the destination paths materialized during one run
type Registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string]struct{})}
}

// Claim registers path and reports whether the caller is the first to do so.
// The check and the insert happen under one lock.
func (r *Registry) Claim(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.paths[path]; ok {
		return false
	}
	r.paths[path] = struct{}{}
	return true
}

// Len returns the number of claimed paths
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}
