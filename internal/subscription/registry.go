package subscription

import (
	"sort"
	"sync"
)

// Registry tracks which objects are selected by at least one client. Counts
// are per distinct client, so a client selecting the same object twice is
// counted once.
type Registry struct {
	mu       sync.RWMutex
	byClient map[string]map[int]struct{}
	counts   map[int]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byClient: make(map[string]map[int]struct{}),
		counts:   make(map[int]int),
	}
}

// Select records that clientID is viewing objectID. It reports whether the
// selection is new for that client.
func (r *Registry) Select(clientID string, objectID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byClient[clientID]
	if !ok {
		set = make(map[int]struct{})
		r.byClient[clientID] = set
	}
	if _, dup := set[objectID]; dup {
		return false
	}
	set[objectID] = struct{}{}
	r.counts[objectID]++
	return true
}

// Unselect removes one client's selection. It reports whether anything was
// removed.
func (r *Registry) Unselect(clientID string, objectID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byClient[clientID]
	if !ok {
		return false
	}
	if _, ok := set[objectID]; !ok {
		return false
	}
	delete(set, objectID)
	if len(set) == 0 {
		delete(r.byClient, clientID)
	}
	r.release(objectID)
	return true
}

// OnDisconnect drops every selection held by clientID and returns the ids it
// had selected.
func (r *Registry) OnDisconnect(clientID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byClient[clientID]
	delete(r.byClient, clientID)

	released := make([]int, 0, len(set))
	for id := range set {
		r.release(id)
		released = append(released, id)
	}
	sort.Ints(released)
	return released
}

// release must be called with mu held.
func (r *Registry) release(objectID int) {
	if r.counts[objectID] <= 1 {
		delete(r.counts, objectID)
		return
	}
	r.counts[objectID]--
}

// IsSelected reports whether any client has objectID selected.
func (r *Registry) IsSelected(objectID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[objectID] > 0
}

// Count returns how many clients have objectID selected.
func (r *Registry) Count(objectID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[objectID]
}

// SelectedIDs returns the selected object ids in ascending order.
func (r *Registry) SelectedIDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

