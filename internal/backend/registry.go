package backend

import (
	"sync"

	"github.com/seantiz/servicing/internal/svcerr"
)

// Registry maps backend kind tags stored on service records to their
// implementations. The mapping lives here and nowhere else, so adding a
// backend never touches calling code.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend implementation under the given kind tag.
func (r *Registry) Register(kind string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = b
}

// Resolve returns the implementation owning records tagged with kind.
// Declared-but-unimplemented kinds (such as "local") resolve to an error
// rather than a panic.
func (r *Registry) Resolve(kind string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[kind]
	if !ok {
		return nil, svcerr.General("", "backend "+kind+" is not registered")
	}
	return b, nil
}

// Kinds returns the registered kind tags, for capability listings.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.backends))
	for kind := range r.backends {
		kinds = append(kinds, kind)
	}
	return kinds
}
