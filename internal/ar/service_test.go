package ar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledgertest"
)

var day = ledgertest.Day

type fixture struct {
	*ledgertest.Ledger
	svc    *Service
	posted []journals.JournalEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{Ledger: ledgertest.New(t)}
	f.svc = NewService(NewMemoryRepository(f.Store), f.Journals, f.Accounts, f.Mappings, f.Audit)
	f.Journals.AddObserver(journals.ObserverFunc(func(ctx context.Context, e journals.JournalEntry) {
		f.posted = append(f.posted, e)
	}))
	return f
}

func tuitionBill(studentID int64, date string, amounts ...int64) BillInput {
	in := BillInput{StudentID: studentID, Date: day(date), ActorID: 7}
	for _, a := range amounts {
		in.Lines = append(in.Lines, BillLineInput{Description: "Tuition", Amount: a})
	}
	return in
}

func TestRecordBillPostsControlAndIncome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bill, err := f.svc.RecordBill(ctx, tuitionBill(42, "2025-01-15", 30000, 20000))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), bill.Total)
	assert.Equal(t, int64(50000), bill.Outstanding)
	assert.Equal(t, BillStatusOpen, bill.Status)
	assert.Equal(t, f.ARCtl.ID, bill.ControlAccountID)
	require.NotZero(t, bill.JournalEntryID)

	entry, err := f.Journals.GetEntry(ctx, bill.JournalEntryID)
	require.NoError(t, err)
	assert.Equal(t, shared.SourceARBill, entry.SourceType)
	require.NotNil(t, entry.SourceID)
	assert.Equal(t, bill.ID, *entry.SourceID)
	require.Len(t, entry.Lines, 3)
	assert.Equal(t, f.ARCtl.ID, entry.Lines[0].AccountID)
	assert.Equal(t, int64(50000), entry.Lines[0].Debit)

	assert.Equal(t, int64(50000), f.Signed(t, f.ARCtl, f.Spring.ID))
	assert.Equal(t, int64(50000), f.Signed(t, f.Income, f.Spring.ID))
	require.Len(t, f.posted, 1)

	stored, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, bill.JournalEntryID, stored.JournalEntryID)

	log, err := f.Audit.Timeline(ctx, audit.TimelineFilters{Action: "ar.bill.create"})
	require.NoError(t, err)
	assert.Len(t, log.Rows, 1)
}

func TestRecordBillRejectsNonControlAccount(t *testing.T) {
	f := newFixture(t)
	in := tuitionBill(42, "2025-01-15", 1000)
	in.ControlAccountCode = "1000"
	_, err := f.svc.RecordBill(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordBillInLockedPeriodPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.RecordBill(ctx, tuitionBill(42, "2025-02-01", 1000))
	var locked *shared.PeriodLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "Spring-2025", locked.PeriodName)

	bills, err := f.svc.ListBills(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, bills)
	assert.Empty(t, f.posted)
}

func TestRecordBillIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := tuitionBill(42, "2025-01-15", 1000)
	in.IdempotencyKey = "fee-1"

	first, err := f.svc.RecordBill(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.RecordBill(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.JournalEntryID, second.JournalEntryID)
	assert.Len(t, f.posted, 1)
}

func TestRecordPaymentAllocatesOldestLinesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.RecordBill(ctx, tuitionBill(42, "2025-01-15", 30000, 20000))
	require.NoError(t, err)

	payment, err := f.svc.RecordPayment(ctx, PaymentInput{
		StudentID:   42,
		Date:        day("2025-02-15"),
		Amount:      35000,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 35000}},
		ActorID:     7,
	})
	require.NoError(t, err)
	assert.Zero(t, payment.Unallocated)
	require.Len(t, payment.Allocations, 2)
	assert.Equal(t, bill.Lines[0].ID, payment.Allocations[0].LineItemID)
	assert.Equal(t, int64(30000), payment.Allocations[0].Amount)
	assert.Equal(t, int64(5000), payment.Allocations[1].Amount)

	stored, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), stored.Outstanding)
	assert.Equal(t, BillStatusPartiallyPaid, stored.Status)
	assert.Equal(t, int64(30000), stored.Lines[0].Allocated)
	assert.Equal(t, int64(5000), stored.Lines[1].Allocated)

	assert.Equal(t, int64(15000), f.Signed(t, f.ARCtl, f.Spring.ID))
	assert.Equal(t, int64(35000), f.Signed(t, f.Cash, f.Spring.ID))

	total, err := f.svc.SubledgerTotal(ctx, f.ARCtl.ID, f.Spring.StartDate, f.Spring.EndDate)
	require.NoError(t, err)
	assert.Equal(t, f.Signed(t, f.ARCtl, f.Spring.ID), total)
}

func TestRecordPaymentOverAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.RecordBill(ctx, tuitionBill(42, "2025-01-15", 10000))
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{StudentID: 42, Date: day("2025-02-01"), Amount: 5000,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 6000}}})
	var over *shared.OverAllocationError
	require.True(t, errors.As(err, &over))
	assert.Equal(t, "payment", over.Target)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{StudentID: 42, Date: day("2025-02-01"), Amount: 20000,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 12000}}})
	require.True(t, errors.As(err, &over))
	assert.Equal(t, int64(10000), over.Available)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{StudentID: 42, Date: day("2025-02-01"), Amount: 20000,
		Allocations: []AllocationInput{{BillID: bill.ID, LineItemID: bill.Lines[0].ID, Amount: 10001}}})
	assert.ErrorIs(t, err, shared.ErrOverAllocation)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{StudentID: 43, Date: day("2025-02-01"), Amount: 100,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 100}}})
	assert.ErrorIs(t, err, shared.ErrValidation)

	payments, err := f.svc.ListPayments(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPaymentUnallocatedCreditsDefaultControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.RecordBill(ctx, tuitionBill(42, "2025-01-15", 10000))
	require.NoError(t, err)

	payment, err := f.svc.RecordPayment(ctx, PaymentInput{StudentID: 42, Date: day("2025-02-01"), Amount: 15000,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 10000}}, IdempotencyKey: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), payment.Unallocated)
	require.NotNil(t, payment.UnallocatedControlAccountID)
	assert.Equal(t, f.ARCtl.ID, *payment.UnallocatedControlAccountID)

	stored, err := f.svc.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, BillStatusPaid, stored.Status)

	assert.Equal(t, int64(-5000), f.Signed(t, f.ARCtl, f.Spring.ID))
	total, err := f.svc.SubledgerTotal(ctx, f.ARCtl.ID, f.Spring.StartDate, f.Spring.EndDate)
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), total)

	replay, err := f.svc.RecordPayment(ctx, PaymentInput{StudentID: 42, Date: day("2025-02-01"), Amount: 15000,
		Allocations: []AllocationInput{{BillID: bill.ID, Amount: 10000}}, IdempotencyKey: "pay-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, payment.ID, replay.ID)
	assert.Len(t, f.posted, 2)

	bills, payments, err := f.svc.StudentSources(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{bill.ID}, bills)
	assert.Equal(t, []int64{payment.ID}, payments)
}

func TestAging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day("2025-01-31")
	early := tuitionBill(42, "2025-01-10", 1000)
	early.DueDate = &due
	_, err := f.svc.RecordBill(ctx, early)
	require.NoError(t, err)
	_, err = f.svc.RecordBill(ctx, tuitionBill(43, "2025-03-25", 2000))
	require.NoError(t, err)

	bucket, err := f.svc.Aging(ctx, day("2025-04-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bucket.Bucket60)
	assert.Equal(t, int64(2000), bucket.Bucket30)
	assert.Zero(t, bucket.Current)
}
