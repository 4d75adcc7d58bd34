package jobs

import (
	"slices"
	"sync"
)

// Registry is the set of record ids this process is actively translating.
// It lives only as long as the process; a record left in Uploading by an
// earlier process is therefore absent from it.
type Registry struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[int64]struct{})}
}

func (r *Registry) Add(id int64) {
	r.mu.Lock()
	r.ids[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	_, ok := r.ids[id]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ret := make([]int64, 0, len(r.ids))
	for id := range r.ids {
		ret = append(ret, id)
	}
	r.mu.RUnlock()
	slices.Sort(ret)
	return ret
}
