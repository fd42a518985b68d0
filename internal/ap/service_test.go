package ap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledgertest"
)

var day = ledgertest.Day

type fixture struct {
	*ledgertest.Ledger
	svc    *Service
	vendor Vendor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{Ledger: ledgertest.New(t)}
	f.svc = NewService(NewMemoryRepository(f.Store), f.Journals, f.Accounts, f.Mappings, f.Audit)
	var err error
	f.vendor, err = f.svc.CreateVendor(context.Background(), VendorInput{Name: "Campus Supplies", ActorID: 1})
	require.NoError(t, err)
	return f
}

func (f *fixture) invoice(date string, approve bool, amounts ...int64) InvoiceInput {
	in := InvoiceInput{VendorID: f.vendor.ID, Date: day(date), Approve: approve, ActorID: 2}
	for _, a := range amounts {
		in.Lines = append(in.Lines, InvoiceLineInput{Description: "Lab supplies", Amount: a})
	}
	return in
}

func TestInvoiceDraftThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.CreateInvoice(ctx, f.invoice("2025-02-03", false, 4000, 6000))
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusDraft, draft.Status)
	assert.Equal(t, "INV-202502-00001", draft.Number)
	assert.Zero(t, draft.JournalEntryID)
	assert.Zero(t, f.Signed(t, f.APCtl, f.Spring.ID))

	approved, err := f.svc.ApproveInvoice(ctx, draft.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, int64(3), *approved.ApprovedBy)

	entry, err := f.Journals.GetEntry(ctx, approved.JournalEntryID)
	require.NoError(t, err)
	assert.Equal(t, shared.SourceAPInvoice, entry.SourceType)
	assert.Equal(t, int64(10000), f.Signed(t, f.APCtl, f.Spring.ID))
	assert.Equal(t, int64(10000), f.Signed(t, f.Expense, f.Spring.ID))

	_, err = f.svc.ApproveInvoice(ctx, draft.ID, 3)
	assert.ErrorIs(t, err, shared.ErrConflict)

	second, err := f.svc.CreateInvoice(ctx, f.invoice("2025-02-10", true, 500))
	require.NoError(t, err)
	assert.Equal(t, "INV-202502-00002", second.Number)
	assert.Equal(t, InvoiceStatusApproved, second.Status)
}

func TestRecordPaymentAgainstApprovedInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, f.invoice("2025-02-03", true, 10000))
	require.NoError(t, err)
	draft, err := f.svc.CreateInvoice(ctx, f.invoice("2025-02-04", false, 2000))
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{VendorID: f.vendor.ID, Date: day("2025-03-01"), Amount: 2000,
		Allocations: []AllocationInput{{InvoiceID: draft.ID, Amount: 2000}}})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{VendorID: f.vendor.ID, Date: day("2025-03-01"), Amount: 20000,
		Allocations: []AllocationInput{{InvoiceID: inv.ID, Amount: 12000}}})
	var over *shared.OverAllocationError
	require.True(t, errors.As(err, &over))
	assert.Equal(t, int64(10000), over.Available)

	payment, err := f.svc.RecordPayment(ctx, PaymentInput{VendorID: f.vendor.ID, Date: day("2025-03-01"), Amount: 7000,
		Allocations: []AllocationInput{{InvoiceID: inv.ID, Amount: 6000}}, IdempotencyKey: "vp-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payment.Unallocated)

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPartiallyPaid, stored.Status)
	assert.Equal(t, int64(4000), stored.Outstanding)

	assert.Equal(t, int64(3000), f.Signed(t, f.APCtl, f.Spring.ID))
	assert.Equal(t, int64(-7000), f.Signed(t, f.Cash, f.Spring.ID))
	total, err := f.svc.SubledgerTotal(ctx, f.APCtl.ID, f.Spring.StartDate, f.Spring.EndDate)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), total)

	replay, err := f.svc.RecordPayment(ctx, PaymentInput{VendorID: f.vendor.ID, Date: day("2025-03-01"), Amount: 7000,
		Allocations: []AllocationInput{{InvoiceID: inv.ID, Amount: 6000}}, IdempotencyKey: "vp-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, payment.ID, replay.ID)
}

func TestReceivePurchaseOrderGeneratesApprovedInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, err := f.svc.CreatePurchaseOrder(ctx, PurchaseOrderInput{
		VendorID: f.vendor.ID,
		Date:     day("2025-01-20"),
		Lines: []POLineInput{
			{Description: "Microscopes", Quantity: 4, UnitCost: 2500},
			{Description: "Slides", Quantity: 100, UnitCost: 10},
		},
		ActorID: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "PO-202501-00001", po.Number)
	assert.Equal(t, POStatusOpen, po.Status)
	assert.Zero(t, f.Signed(t, f.APCtl, f.Spring.ID))

	inv, err := f.svc.ReceivePurchaseOrder(ctx, ReceiveInput{PurchaseOrderID: po.ID, Date: day("2025-02-05"),
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: 2}}, ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusApproved, inv.Status)
	assert.Equal(t, int64(5000), inv.Total)
	require.NotNil(t, inv.PurchaseOrderID)
	assert.Equal(t, po.ID, *inv.PurchaseOrderID)
	assert.Equal(t, int64(5000), f.Signed(t, f.APCtl, f.Spring.ID))

	got, err := f.svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, POStatusPartiallyReceived, got.Status)
	assert.Equal(t, int64(2), got.Lines[0].ReceivedQuantity)

	_, err = f.svc.ReceivePurchaseOrder(ctx, ReceiveInput{PurchaseOrderID: po.ID, Date: day("2025-02-06"),
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: 3}}})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ReceivePurchaseOrder(ctx, ReceiveInput{PurchaseOrderID: po.ID, Date: day("2025-02-06"),
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: 2}, {LineID: po.Lines[1].ID, Quantity: 100}}})
	require.NoError(t, err)
	got, err = f.svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, POStatusReceived, got.Status)

	_, err = f.svc.ReceivePurchaseOrder(ctx, ReceiveInput{PurchaseOrderID: po.ID, Date: day("2025-02-07"),
		Lines: []ReceiveLineInput{{LineID: po.Lines[1].ID, Quantity: 1}}})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestDraftInvoicesBlockPeriodLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.Periods.AddLockGuard(f.svc)

	draft, err := f.svc.CreateInvoice(ctx, f.invoice("2025-03-15", false, 900))
	require.NoError(t, err)

	_, err = f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	var pending *shared.OpenPostingsPendingError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, 1, pending.Pending)

	_, err = f.svc.ApproveInvoice(ctx, draft.ID, 1)
	require.NoError(t, err)
	locked, err := f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	require.NoError(t, err)
	assert.True(t, locked.IsLocked())
}

func TestInvoiceRequiresActiveVendorAndAPControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.invoice("2025-02-03", false, 100)
	in.VendorID = 999
	_, err := f.svc.CreateInvoice(ctx, in)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	in = f.invoice("2025-02-03", false, 100)
	in.ControlAccountCode = "1200"
	_, err = f.svc.CreateInvoice(ctx, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
}
