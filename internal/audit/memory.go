package audit

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store *memstore.Store
	logs  *memstore.Table[Log]
}

// NewMemoryRepository returns an audit repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{store: store, logs: memstore.NewTable[Log](store, nil)}
}

func (r *memoryRepository) Insert(ctx context.Context, log Log) (int64, error) {
	release := r.store.Acquire(ctx)
	defer release()
	log.ID = r.store.NextID("audit_logs")
	r.logs.Put(log.ID, log)
	return log.ID, nil
}

func (r *memoryRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]Log, error) {
	release := r.store.Acquire(ctx)
	defer release()
	rows := r.logs.Filter(f.matches)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].At.Equal(rows[j].At) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].At.After(rows[j].At)
	})
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}
