package ar

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store    *memstore.Store
	bills    *memstore.Table[Bill]
	payments *memstore.Table[Payment]
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{
		store:    store,
		bills:    memstore.NewTable[Bill](store, cloneBill),
		payments: memstore.NewTable[Payment](store, clonePayment),
	}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if b.IdempotencyKey != "" {
		if _, ok := r.bills.Find(func(x Bill) bool { return x.IdempotencyKey == b.IdempotencyKey }); ok {
			return Bill{}, &shared.ConflictError{Reason: "bill with this idempotency key is being recorded"}
		}
	}
	b.ID = r.store.NextID("ar_bills")
	for i := range b.Lines {
		b.Lines[i].ID = r.store.NextID("ar_bill_lines")
		b.Lines[i].BillID = b.ID
	}
	r.bills.Put(b.ID, b)
	return cloneBill(b), nil
}

func (r *memoryRepository) UpdateBill(ctx context.Context, b Bill) error {
	release := r.store.Acquire(ctx)
	defer release()
	stored, ok := r.bills.Get(b.ID)
	if !ok {
		return shared.NotFound("bill", b.ID)
	}
	stored.Outstanding = b.Outstanding
	stored.Status = b.Status
	stored.JournalEntryID = b.JournalEntryID
	allocated := make(map[int64]int64, len(b.Lines))
	for _, l := range b.Lines {
		allocated[l.ID] = l.Allocated
	}
	for i := range stored.Lines {
		if v, ok := allocated[stored.Lines[i].ID]; ok {
			stored.Lines[i].Allocated = v
		}
	}
	r.bills.Put(b.ID, stored)
	return nil
}

func (r *memoryRepository) GetBill(ctx context.Context, id int64, _ bool) (Bill, error) {
	release := r.store.Acquire(ctx)
	defer release()
	b, ok := r.bills.Get(id)
	if !ok {
		return Bill{}, shared.NotFound("bill", id)
	}
	return b, nil
}

func (r *memoryRepository) FindBillByKey(ctx context.Context, key string) (Bill, error) {
	release := r.store.Acquire(ctx)
	defer release()
	b, ok := r.bills.Find(func(x Bill) bool { return x.IdempotencyKey == key })
	if !ok {
		return Bill{}, shared.NotFound("bill", key)
	}
	return b, nil
}

func (r *memoryRepository) ListBills(ctx context.Context, studentID int64) ([]Bill, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.bills.Filter(func(x Bill) bool { return studentID == 0 || x.StudentID == studentID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (r *memoryRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if p.IdempotencyKey != "" {
		if _, ok := r.payments.Find(func(x Payment) bool { return x.IdempotencyKey == p.IdempotencyKey }); ok {
			return Payment{}, &shared.ConflictError{Reason: "payment with this idempotency key is being recorded"}
		}
	}
	p.ID = r.store.NextID("ar_payments")
	for i := range p.Allocations {
		p.Allocations[i].ID = r.store.NextID("ar_allocations")
		p.Allocations[i].PaymentID = p.ID
	}
	r.payments.Put(p.ID, p)
	return clonePayment(p), nil
}

func (r *memoryRepository) SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error {
	release := r.store.Acquire(ctx)
	defer release()
	p, ok := r.payments.Get(paymentID)
	if !ok {
		return shared.NotFound("payment", paymentID)
	}
	p.JournalEntryID = entryID
	r.payments.Put(p.ID, p)
	return nil
}

func (r *memoryRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	release := r.store.Acquire(ctx)
	defer release()
	p, ok := r.payments.Get(id)
	if !ok {
		return Payment{}, shared.NotFound("payment", id)
	}
	return p, nil
}

func (r *memoryRepository) FindPaymentByKey(ctx context.Context, key string) (Payment, error) {
	release := r.store.Acquire(ctx)
	defer release()
	p, ok := r.payments.Find(func(x Payment) bool { return x.IdempotencyKey == key })
	if !ok {
		return Payment{}, shared.NotFound("payment", key)
	}
	return p, nil
}

func (r *memoryRepository) ListPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.payments.Filter(func(x Payment) bool { return studentID == 0 || x.StudentID == studentID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func within(d shared.Date, from, to time.Time) bool {
	return !d.Before(from) && !d.After(to)
}

func (r *memoryRepository) SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error) {
	release := r.store.Acquire(ctx)
	defer release()
	var total int64
	control := make(map[int64]int64)
	for _, b := range r.bills.All() {
		control[b.ID] = b.ControlAccountID
		if b.ControlAccountID == controlAccountID && within(b.Date, from, to) {
			total += b.Total
		}
	}
	for _, p := range r.payments.All() {
		if !within(p.Date, from, to) {
			continue
		}
		for _, a := range p.Allocations {
			if control[a.BillID] == controlAccountID {
				total -= a.Amount
			}
		}
		if p.UnallocatedControlAccountID != nil && *p.UnallocatedControlAccountID == controlAccountID {
			total -= p.Unallocated
		}
	}
	return total, nil
}
