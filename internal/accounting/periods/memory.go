package periods

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store   *memstore.Store
	periods *memstore.Table[Period]
}

// NewMemoryRepository returns a repository backed by store. The store mutex
// stands in for row locks.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{store: store, periods: memstore.NewTable[Period](store, nil)}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) SerializeCreate(context.Context) error { return nil }

func (r *memoryRepository) Insert(ctx context.Context, p Period) (Period, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if _, ok := r.periods.Find(func(x Period) bool { return x.Name == p.Name }); ok {
		return Period{}, shared.Invalid("name", "period "+p.Name+" already exists")
	}
	p.ID = r.store.NextID("fiscal_periods")
	r.periods.Put(p.ID, p)
	return p, nil
}

func (r *memoryRepository) Update(ctx context.Context, p Period) error {
	release := r.store.Acquire(ctx)
	defer release()
	r.periods.Put(p.ID, p)
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id int64, _ LockMode) (Period, error) {
	release := r.store.Acquire(ctx)
	defer release()
	p, ok := r.periods.Get(id)
	if !ok {
		return Period{}, shared.NotFound("fiscal period", id)
	}
	return p, nil
}

func (r *memoryRepository) FindByDate(ctx context.Context, day time.Time, _ LockMode) (Period, error) {
	release := r.store.Acquire(ctx)
	defer release()
	p, ok := r.periods.Find(func(x Period) bool { return x.Contains(day) })
	if !ok {
		return Period{}, shared.NotFound("fiscal period", day.Format(shared.DateLayout))
	}
	return p, nil
}

func (r *memoryRepository) List(ctx context.Context) ([]Period, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.periods.All()
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}
