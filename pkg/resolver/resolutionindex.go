package resolver

import (
	"sync"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
)

// resolutionIndex is a resolver-local lookup from resolution_id to its
// cache entry. The Resolution Cache (pkg/cache) is keyed by the
// (goal_hash, agent_id, scope) fingerprint per §4.6, which does not
// give Execute a way to find a resolution by the id an earlier resolve
// call returned; this index is the Resolver's own id-keyed view over
// the same entries, populated whenever Resolve caches a resolution.
type resolutionIndex struct {
	mu   sync.RWMutex
	byID map[string]cache.Entry
}

func newResolutionIndex() *resolutionIndex {
	return &resolutionIndex{byID: make(map[string]cache.Entry)}
}

func (idx *resolutionIndex) put(entry cache.Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[entry.Resolution.ID] = entry
}

func (idx *resolutionIndex) get(id string) (cache.Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entry, ok := idx.byID[id]
	return entry, ok
}

func (idx *resolutionIndex) delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byID, id)
}
