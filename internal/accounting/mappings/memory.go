package mappings

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[AccountMapping]
	ids   map[[2]string]int64
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{store: store, rows: memstore.NewTable[AccountMapping](store, nil), ids: make(map[[2]string]int64)}
}

func (r *memoryRepository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	release := r.store.Acquire(ctx)
	defer release()
	m, ok := r.rows.Find(func(m AccountMapping) bool { return m.Module == module && m.Key == key })
	if !ok {
		return AccountMapping{}, shared.NotFound("account mapping", module+"/"+key)
	}
	return m, nil
}

func (r *memoryRepository) Upsert(ctx context.Context, m AccountMapping) error {
	release := r.store.Acquire(ctx)
	defer release()
	k := [2]string{m.Module, m.Key}
	id, ok := r.ids[k]
	if !ok {
		id = r.store.NextID("account_mappings")
		r.ids[k] = id
	}
	if existing, found := r.rows.Get(id); found {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = m.UpdatedAt
	}
	r.rows.Put(id, m)
	return nil
}

func (r *memoryRepository) List(ctx context.Context) ([]AccountMapping, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.rows.All()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
