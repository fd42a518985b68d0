package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/ap"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledgertest"
)

var day = ledgertest.Day

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (n *recordingNotifier) ReconciliationUnmatched(ctx context.Context, alert Alert) error {
	n.alerts = append(n.alerts, alert)
	return n.err
}

type fixture struct {
	*ledgertest.Ledger
	ar       *ar.Service
	ap       *ap.Service
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{Ledger: ledgertest.New(t), notifier: &recordingNotifier{}}
	f.ar = ar.NewService(ar.NewMemoryRepository(f.Store), f.Journals, f.Accounts, f.Mappings, f.Audit)
	f.ap = ap.NewService(ap.NewMemoryRepository(f.Store), f.Journals, f.Accounts, f.Mappings, f.Audit)
	f.svc = NewService(NewMemoryRepository(f.Store), Deps{
		Accounts:   f.Accounts,
		Periods:    f.Periods,
		Ledger:     f.Journals,
		Subledgers: map[string]Subledger{shared.OwnerAR: f.ar, shared.OwnerAP: f.ap},
		Notifier:   f.notifier,
		Audit:      f.Audit,
	})
	f.Periods.AddLockGuard(f.svc)
	f.Journals.SetAdjustmentAuthority(f.svc)
	return f
}

func (f *fixture) bill(t *testing.T, amount int64, date string) {
	t.Helper()
	_, err := f.ar.RecordBill(context.Background(), ar.BillInput{
		StudentID: 42,
		Date:      day(date),
		Lines:     []ar.BillLineInput{{Description: "Tuition", Amount: amount}},
		ActorID:   7,
	})
	require.NoError(t, err)
}

// drift books an AR entry straight to the control account without a
// matching bill in the subledger.
func (f *fixture) drift(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.Journals.PostEntry(context.Background(), journals.PostingInput{
		Date:       day("2025-03-01"),
		Memo:       "stray AR posting",
		SourceType: shared.SourceARBill,
		PostedBy:   1,
		Lines: []journals.PostingLineInput{
			{AccountID: f.ARCtl.ID, Debit: amount},
			{AccountID: f.Income.ID, Credit: amount},
		},
	})
	require.NoError(t, err)
}

func TestReconcileMatchedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bill(t, 50000, "2025-02-01")

	first, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, first.Status)
	assert.Equal(t, int64(50000), first.SubledgerTotal)
	assert.Equal(t, int64(50000), first.GLBalance)
	assert.Zero(t, first.Difference)

	again, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	recs, err := f.svc.List(ctx, f.Spring.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Empty(t, f.notifier.alerts)

	logs, err := f.Audit.Timeline(ctx, audit.TimelineFilters{Entity: "gl_reconciliations", Action: "reconciliation.run"})
	require.NoError(t, err)
	assert.Len(t, logs.Rows, 1)
}

func TestUnmatchedBlocksLockUntilAdjusted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bill(t, 50000, "2025-02-01")
	f.drift(t, 1500)

	rec, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusUnmatched, rec.Status)
	assert.Equal(t, int64(51500), rec.GLBalance)
	assert.Equal(t, int64(-1500), rec.Difference)
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, "1200", f.notifier.alerts[0].AccountCode)
	assert.Equal(t, "Spring-2025", f.notifier.alerts[0].PeriodName)

	_, err = f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	var pending *shared.ReconciliationPendingError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, []string{"1200"}, pending.AccountCodes)

	_, err = f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, ActorID: 3})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "reverse stray entry", Adjust: true, OffsetAccountCode: "1200", ActorID: 3})
	assert.ErrorIs(t, err, shared.ErrValidation)

	resolved, err := f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "reverse stray entry", Adjust: true, OffsetAccountCode: "4000", ActorID: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, int64(3), *resolved.ResolvedBy)
	require.NotNil(t, resolved.AdjustmentEntryID)

	entry, err := f.Journals.GetEntry(ctx, *resolved.AdjustmentEntryID)
	require.NoError(t, err)
	assert.Equal(t, shared.SourceAdjustment, entry.SourceType)
	require.NotNil(t, entry.SourceID)
	assert.Equal(t, rec.ID, *entry.SourceID)
	assert.True(t, entry.Date.Equal(day("2025-04-30")))
	assert.Equal(t, int64(50000), f.Signed(t, f.ARCtl, f.Spring.ID))

	_, err = f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "again", ActorID: 3})
	assert.ErrorIs(t, err, shared.ErrConflict)

	rerun, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, rerun.ID)
	assert.Equal(t, StatusMatched, rerun.Status)

	locked, err := f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, periods.StatusLocked, locked.Status)
}

func TestResolveWithoutAdjustmentAcceptsDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("smtp down")
	f.drift(t, 700)

	rec, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusUnmatched, rec.Status)

	resolved, err := f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "timing difference, clears next term", ActorID: 3})
	require.NoError(t, err)
	assert.Nil(t, resolved.AdjustmentEntryID)
	assert.Equal(t, int64(700), f.Signed(t, f.ARCtl, f.Spring.ID))

	again, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, StatusResolved, again.Status)

	require.NoError(t, f.svc.EnsureReconciled(ctx, f.Spring))
}

func TestReconcileAllCoversEveryControlAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bill(t, 12000, "2025-01-20")
	vendor, err := f.ap.CreateVendor(ctx, ap.VendorInput{Name: "Paper Co", ActorID: 1})
	require.NoError(t, err)
	_, err = f.ap.CreateInvoice(ctx, ap.InvoiceInput{
		VendorID: vendor.ID,
		Date:     day("2025-02-10"),
		Lines:    []ap.InvoiceLineInput{{Description: "Paper", Amount: 4000}},
		Approve:  true,
		ActorID:  1,
	})
	require.NoError(t, err)

	recs, err := f.svc.ReconcileAll(ctx, f.Spring.ID, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byAccount := map[int64]GlReconciliation{}
	for _, rec := range recs {
		byAccount[rec.ControlAccountID] = rec
	}
	assert.Equal(t, int64(12000), byAccount[f.ARCtl.ID].GLBalance)
	assert.Equal(t, int64(4000), byAccount[f.APCtl.ID].SubledgerTotal)
	assert.Equal(t, int64(4000), byAccount[f.APCtl.ID].GLBalance)
	for _, rec := range recs {
		assert.Equal(t, StatusMatched, rec.Status)
	}

	_, err = f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.Cash.ID, 3)
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Get(ctx, 9999)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeactivatedControlAccountStillReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bill(t, 50000, "2025-02-01")
	f.drift(t, 1500)

	_, err := f.Accounts.DeactivateAccount(ctx, "1200", 1)
	require.NoError(t, err)
	_, err = f.Accounts.DeactivateAccount(ctx, "2100", 1)
	require.NoError(t, err)

	recs, err := f.svc.ReconcileAll(ctx, f.Spring.ID, 3)
	require.NoError(t, err)
	require.Len(t, recs, 1, "a quiet deactivated account has nothing to reconcile")
	assert.Equal(t, f.ARCtl.ID, recs[0].ControlAccountID)
	assert.Equal(t, StatusUnmatched, recs[0].Status)
	assert.Equal(t, int64(-1500), recs[0].Difference)

	_, err = f.Periods.LockPeriod(ctx, f.Spring.ID, 1)
	var pending *shared.ReconciliationPendingError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, []string{"1200"}, pending.AccountCodes)
}

func TestResolveAdjustmentUnaffectedByCallerKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bill(t, 50000, "2025-02-01")
	f.drift(t, 1500)

	rec, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)
	require.Equal(t, StatusUnmatched, rec.Status)

	cashSale := func(key string) error {
		_, err := f.Journals.PostEntry(ctx, journals.PostingInput{
			Date:           day("2025-03-02"),
			Memo:           "cash sale",
			SourceType:     shared.SourceManual,
			IdempotencyKey: key,
			PostedBy:       9,
			Lines: []journals.PostingLineInput{
				{AccountID: f.Cash.ID, Debit: 10},
				{AccountID: f.Income.ID, Credit: 10},
			},
		})
		return err
	}
	assert.ErrorIs(t, cashSale(fmt.Sprintf("ledger:reconciliation:%d:adjustment", rec.ID)), shared.ErrValidation)
	require.NoError(t, cashSale(fmt.Sprintf("reconciliation-%d-adjustment", rec.ID)))

	// An adjustment naming the open reconciliation still cannot be posted
	// directly to the control account.
	ref := rec.ID
	_, err = f.Journals.PostEntry(ctx, journals.PostingInput{
		Date:       day("2025-03-03"),
		Memo:       "self-made adjustment",
		SourceType: shared.SourceAdjustment,
		SourceID:   &ref,
		PostedBy:   9,
		Lines: []journals.PostingLineInput{
			{AccountID: f.Income.ID, Debit: 1500},
			{AccountID: f.ARCtl.ID, Credit: 1500},
		},
	})
	assert.ErrorIs(t, err, shared.ErrControlAccount)

	resolved, err := f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "reverse stray entry", Adjust: true, OffsetAccountCode: "4000", ActorID: 3})
	require.NoError(t, err)
	require.NotNil(t, resolved.AdjustmentEntryID)
	entry, err := f.Journals.GetEntry(ctx, *resolved.AdjustmentEntryID)
	require.NoError(t, err)
	assert.Equal(t, shared.SourceAdjustment, entry.SourceType)
	assert.Equal(t, int64(50000), f.Signed(t, f.ARCtl, f.Spring.ID))
}

func TestAuthorizesAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.drift(t, 700)

	rec, err := f.svc.ReconcilePeriod(ctx, f.Spring.ID, f.ARCtl.ID, 3)
	require.NoError(t, err)

	ok, err := f.svc.AuthorizesAdjustment(ctx, rec.ID, f.ARCtl.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.AuthorizesAdjustment(ctx, rec.ID, f.APCtl.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.AuthorizesAdjustment(ctx, 9999, f.ARCtl.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Resolve(ctx, ResolveInput{ID: rec.ID, Notes: "accepted", ActorID: 3})
	require.NoError(t, err)
	ok, err = f.svc.AuthorizesAdjustment(ctx, rec.ID, f.ARCtl.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
