package pciv

import (
	"context"
	"sort"
	"sync"

	"github.com/weflora/planning-core/internal/apperr"
)

// Store persists context versions. Implementations hand out copies; callers
// write changes back with SaveContext.
type Store interface {
	SaveContext(ctx context.Context, cv *ContextVersion) error
	LoadContext(ctx context.Context, id string) (*ContextVersion, error)
	ListContexts(ctx context.Context) ([]string, error)
}

// MemoryStore keeps context versions in a map.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]*ContextVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string]*ContextVersion)}
}

func (m *MemoryStore) SaveContext(_ context.Context, cv *ContextVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[cv.ID] = cv.Clone()
	return nil
}

func (m *MemoryStore) LoadContext(_ context.Context, id string) (*ContextVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cv, ok := m.versions[id]
	if !ok {
		return nil, apperr.NotFound("context version %s", id)
	}
	return cv.Clone(), nil
}

func (m *MemoryStore) ListContexts(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.versions))
	for id := range m.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
