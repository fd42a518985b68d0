package reconciliation

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store   *memstore.Store
	records *memstore.Table[GlReconciliation]
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{
		store:   store,
		records: memstore.NewTable[GlReconciliation](store, nil),
	}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) Insert(ctx context.Context, rec GlReconciliation) (GlReconciliation, error) {
	release := r.store.Acquire(ctx)
	defer release()
	rec.ID = r.store.NextID("gl_reconciliations")
	r.records.Put(rec.ID, rec)
	return rec, nil
}

func (r *memoryRepository) Resolve(ctx context.Context, rec GlReconciliation) error {
	release := r.store.Acquire(ctx)
	defer release()
	stored, ok := r.records.Get(rec.ID)
	if !ok {
		return shared.NotFound("reconciliation", rec.ID)
	}
	stored.Status = rec.Status
	stored.ResolvedBy = rec.ResolvedBy
	stored.ResolvedAt = rec.ResolvedAt
	stored.Notes = rec.Notes
	stored.AdjustmentEntryID = rec.AdjustmentEntryID
	r.records.Put(stored.ID, stored)
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id int64, _ bool) (GlReconciliation, error) {
	release := r.store.Acquire(ctx)
	defer release()
	rec, ok := r.records.Get(id)
	if !ok {
		return GlReconciliation{}, shared.NotFound("reconciliation", id)
	}
	return rec, nil
}

func (r *memoryRepository) Latest(ctx context.Context, periodID, controlAccountID int64) (GlReconciliation, error) {
	release := r.store.Acquire(ctx)
	defer release()
	var latest GlReconciliation
	for _, rec := range r.records.All() {
		if rec.PeriodID == periodID && rec.ControlAccountID == controlAccountID && rec.ID > latest.ID {
			latest = rec
		}
	}
	if latest.ID == 0 {
		return GlReconciliation{}, shared.NotFound("reconciliation", periodID)
	}
	return latest, nil
}

func (r *memoryRepository) List(ctx context.Context, periodID int64) ([]GlReconciliation, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.records.Filter(func(x GlReconciliation) bool { return periodID == 0 || x.PeriodID == periodID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
