package ap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store    *memstore.Store
	vendors  *memstore.Table[Vendor]
	invoices *memstore.Table[Invoice]
	payments *memstore.Table[Payment]
	orders   *memstore.Table[PurchaseOrder]
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{
		store:    store,
		vendors:  memstore.NewTable[Vendor](store, nil),
		invoices: memstore.NewTable[Invoice](store, cloneInvoice),
		payments: memstore.NewTable[Payment](store, clonePayment),
		orders:   memstore.NewTable[PurchaseOrder](store, clonePurchaseOrder),
	}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) InsertVendor(ctx context.Context, v Vendor) (Vendor, error) {
	release := r.store.Acquire(ctx)
	defer release()
	v.ID = r.store.NextID("ap_vendors")
	r.vendors.Put(v.ID, v)
	return v, nil
}

func (r *memoryRepository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	release := r.store.Acquire(ctx)
	defer release()
	v, ok := r.vendors.Get(id)
	if !ok {
		return Vendor{}, shared.NotFound("vendor", id)
	}
	return v, nil
}

func (r *memoryRepository) ListVendors(ctx context.Context) ([]Vendor, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.vendors.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepository) NextNumber(ctx context.Context, prefix string, date time.Time) (string, error) {
	release := r.store.Acquire(ctx)
	defer release()
	stem := fmt.Sprintf("%s-%s-", prefix, date.Format("200601"))
	var n int
	if prefix == purchaseOrderPrefix {
		n = len(r.orders.Filter(func(x PurchaseOrder) bool { return strings.HasPrefix(x.Number, stem) }))
	} else {
		n = len(r.invoices.Filter(func(x Invoice) bool { return strings.HasPrefix(x.Number, stem) }))
	}
	return fmt.Sprintf("%s%05d", stem, n+1), nil
}

func (r *memoryRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if inv.IdempotencyKey != "" {
		if _, ok := r.invoices.Find(func(x Invoice) bool { return x.IdempotencyKey == inv.IdempotencyKey }); ok {
			return Invoice{}, &shared.ConflictError{Reason: "invoice with this idempotency key is being recorded"}
		}
	}
	if _, ok := r.invoices.Find(func(x Invoice) bool { return x.Number == inv.Number }); ok {
		return Invoice{}, shared.Invalid("number", fmt.Sprintf("invoice number %s already exists", inv.Number))
	}
	inv.ID = r.store.NextID("ap_invoices")
	for i := range inv.Lines {
		inv.Lines[i].ID = r.store.NextID("ap_invoice_lines")
		inv.Lines[i].InvoiceID = inv.ID
	}
	r.invoices.Put(inv.ID, inv)
	return cloneInvoice(inv), nil
}

func (r *memoryRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	release := r.store.Acquire(ctx)
	defer release()
	stored, ok := r.invoices.Get(inv.ID)
	if !ok {
		return shared.NotFound("invoice", inv.ID)
	}
	stored.Status = inv.Status
	stored.Outstanding = inv.Outstanding
	stored.JournalEntryID = inv.JournalEntryID
	stored.ApprovedBy = inv.ApprovedBy
	stored.ApprovedAt = inv.ApprovedAt
	r.invoices.Put(inv.ID, stored)
	return nil
}

func (r *memoryRepository) GetInvoice(ctx context.Context, id int64, _ bool) (Invoice, error) {
	release := r.store.Acquire(ctx)
	defer release()
	inv, ok := r.invoices.Get(id)
	if !ok {
		return Invoice{}, shared.NotFound("invoice", id)
	}
	return inv, nil
}

func (r *memoryRepository) FindInvoiceByKey(ctx context.Context, key string) (Invoice, error) {
	release := r.store.Acquire(ctx)
	defer release()
	inv, ok := r.invoices.Find(func(x Invoice) bool { return x.IdempotencyKey == key })
	if !ok {
		return Invoice{}, shared.NotFound("invoice", key)
	}
	return inv, nil
}

func (r *memoryRepository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.invoices.Filter(func(x Invoice) bool {
		return (filter.VendorID == 0 || x.VendorID == filter.VendorID) && (filter.Status == "" || x.Status == filter.Status)
	})
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
	p.ID = r.store.NextID("ap_payments")
	for i := range p.Allocations {
		p.Allocations[i].ID = r.store.NextID("ap_allocations")
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

func (r *memoryRepository) ListPayments(ctx context.Context, vendorID int64) ([]Payment, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.payments.Filter(func(x Payment) bool { return vendorID == 0 || x.VendorID == vendorID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (r *memoryRepository) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	release := r.store.Acquire(ctx)
	defer release()
	po.ID = r.store.NextID("ap_purchase_orders")
	for i := range po.Lines {
		po.Lines[i].ID = r.store.NextID("ap_purchase_order_lines")
		po.Lines[i].PurchaseOrderID = po.ID
	}
	r.orders.Put(po.ID, po)
	return clonePurchaseOrder(po), nil
}

func (r *memoryRepository) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	release := r.store.Acquire(ctx)
	defer release()
	stored, ok := r.orders.Get(po.ID)
	if !ok {
		return shared.NotFound("purchase order", po.ID)
	}
	received := make(map[int64]int64, len(po.Lines))
	for _, l := range po.Lines {
		received[l.ID] = l.ReceivedQuantity
	}
	for i := range stored.Lines {
		if q, ok := received[stored.Lines[i].ID]; ok {
			stored.Lines[i].ReceivedQuantity = q
		}
	}
	stored.Status = po.Status
	r.orders.Put(po.ID, stored)
	return nil
}

func (r *memoryRepository) GetPurchaseOrder(ctx context.Context, id int64, _ bool) (PurchaseOrder, error) {
	release := r.store.Acquire(ctx)
	defer release()
	po, ok := r.orders.Get(id)
	if !ok {
		return PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return po, nil
}

func (r *memoryRepository) ListPurchaseOrders(ctx context.Context, vendorID int64) ([]PurchaseOrder, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.orders.Filter(func(x PurchaseOrder) bool { return vendorID == 0 || x.VendorID == vendorID })
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
	for _, inv := range r.invoices.All() {
		control[inv.ID] = inv.ControlAccountID
		if inv.Status != InvoiceStatusDraft && inv.ControlAccountID == controlAccountID && within(inv.Date, from, to) {
			total += inv.Total
		}
	}
	for _, p := range r.payments.All() {
		if !within(p.Date, from, to) {
			continue
		}
		for _, a := range p.Allocations {
			if control[a.InvoiceID] == controlAccountID {
				total -= a.Amount
			}
		}
		if p.UnallocatedControlAccountID != nil && *p.UnallocatedControlAccountID == controlAccountID {
			total -= p.Unallocated
		}
	}
	return total, nil
}

func (r *memoryRepository) CountDraftInvoices(ctx context.Context, from, to time.Time) (int, error) {
	release := r.store.Acquire(ctx)
	defer release()
	return len(r.invoices.Filter(func(x Invoice) bool {
		return x.Status == InvoiceStatusDraft && within(x.Date, from, to)
	})), nil
}
