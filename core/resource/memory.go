package resource

import (
	"context"
	"sort"
	"sync"

	"github.com/flowstudio/authz/core/rebac"
)

type memoryKey struct {
	ns rebac.Namespace
	id string
}

// MemoryRepository keeps resources in memory. Get returns (nil, nil) for a
// missing resource.
type MemoryRepository struct {
	mu        sync.RWMutex
	resources map[memoryKey]Resource
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{resources: make(map[memoryKey]Resource)}
}

func (m *MemoryRepository) Create(ctx context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[memoryKey{r.Namespace, r.ID}] = *r
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, ns rebac.Namespace, id string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[memoryKey{ns, id}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryRepository) Update(ctx context.Context, r *Resource) error {
	return m.Create(ctx, r)
}

func (m *MemoryRepository) Delete(ctx context.Context, ns rebac.Namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, memoryKey{ns, id})
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, ns rebac.Namespace, ids []string) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.resources[memoryKey{ns, id}]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WithTx returns m. Inserts and deletes run last inside CreateOwned and
// DeleteOwned, so a failure there rolls back only tuple writes.
func (m *MemoryRepository) WithTx(tx rebac.Store) Repository {
	return m
}

var _ Repository = (*MemoryRepository)(nil)
