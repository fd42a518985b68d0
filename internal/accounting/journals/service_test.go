package journals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type fixture struct {
	repo     Repository
	audit    *audit.Service
	accounts *accounts.Service
	periods  *periods.Service
	journals *Service
	cash     accounts.Account
	income   accounts.Account
	ar       accounts.Account
	spring   periods.Period
	summer   periods.Period
}

func day(s string) time.Time {
	t, err := time.Parse(shared.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	f := &fixture{audit: audit.NewService(audit.NewMemoryRepository(store))}
	f.accounts = accounts.NewService(accounts.NewMemoryRepository(store), f.audit)
	f.periods = periods.NewService(periods.NewMemoryRepository(store), f.audit)
	f.repo = NewMemoryRepository(store)
	f.journals = NewService(f.repo, f.accounts, f.periods, f.audit)
	f.accounts.SetUsageChecker(f.journals)

	var err error
	f.cash, err = f.accounts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "1000", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)
	f.ar, err = f.accounts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "1200", Name: "Student receivables", Type: accounts.AccountTypeAsset, IsControl: true, ControlOwner: shared.OwnerAR})
	require.NoError(t, err)
	f.income, err = f.accounts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "4000", Name: "Tuition", Type: accounts.AccountTypeIncome})
	require.NoError(t, err)
	f.spring, err = f.periods.CreatePeriod(ctx, periods.CreateInput{Name: "Spring-2025", StartDate: day("2025-01-01"), EndDate: day("2025-04-30")})
	require.NoError(t, err)
	f.summer, err = f.periods.CreatePeriod(ctx, periods.CreateInput{Name: "Summer-2025", StartDate: day("2025-05-01"), EndDate: day("2025-08-31")})
	require.NoError(t, err)
	return f
}

func (f *fixture) manual(date string, debitAccount, creditAccount int64, amount int64) PostingInput {
	return PostingInput{
		Date:       day(date),
		Memo:       "test",
		SourceType: shared.SourceManual,
		PostedBy:   1,
		Lines: []PostingLineInput{
			{AccountID: debitAccount, Debit: amount},
			{AccountID: creditAccount, Credit: amount},
		},
	}
}

func TestPostEntryBalancedAndSequenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 50000))
	require.NoError(t, err)
	second, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 100))
	require.NoError(t, err)

	assert.Equal(t, f.spring.ID, first.PeriodID)
	assert.Greater(t, second.Sequence, first.Sequence)
	debit, credit := first.Totals()
	assert.Equal(t, debit, credit)
	require.Len(t, first.Lines, 2)
	assert.Equal(t, 1, first.Lines[0].LineNo)

	activity, err := f.journals.AccountActivity(ctx, f.cash.ID, f.spring.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50100), activity.Debit)

	logs, err := f.audit.Timeline(ctx, audit.TimelineFilters{Action: "journal.post"})
	require.NoError(t, err)
	assert.Len(t, logs.Rows, 2)
}

func TestPostEntryUnbalancedPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.manual("2025-02-01", f.cash.ID, f.income.ID, 10000)
	input.Lines[1].Credit = 9000

	_, err := f.journals.PostEntry(ctx, input)
	var unbalanced *shared.UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	assert.Equal(t, int64(1000), unbalanced.Delta())

	entries, err := f.journals.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostEntryStructuralValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]func(in *PostingInput){
		"single line":  func(in *PostingInput) { in.Lines = in.Lines[:1] },
		"both sides":   func(in *PostingInput) { in.Lines[0].Credit = 5 },
		"zero line":    func(in *PostingInput) { in.Lines[0].Debit = 0 },
		"negative":     func(in *PostingInput) { in.Lines[0].Debit = -10; in.Lines[1].Credit = -10 },
		"no account":   func(in *PostingInput) { in.Lines[0].AccountID = 0 },
		"unknown":      func(in *PostingInput) { in.Lines[0].AccountID = 999 },
		"missing date": func(in *PostingInput) { in.Date = time.Time{} },
		"bad source":   func(in *PostingInput) { in.SourceType = "import" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := f.manual("2025-02-01", f.cash.ID, f.income.ID, 100)
			mutate(&input)
			_, err := f.journals.PostEntry(ctx, input)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestPostEntryControlAccountOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.ar.ID, f.income.ID, 500))
	var violation *shared.ControlAccountViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "1200", violation.AccountCode)

	input := f.manual("2025-02-01", f.ar.ID, f.income.ID, 500)
	input.SourceType = shared.SourceAPInvoice
	_, err = f.journals.PostEntry(ctx, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount)

	input.SourceType = shared.SourceARBill
	_, err = f.journals.PostEntry(ctx, input)
	require.NoError(t, err)

	input.SourceType = shared.SourceAdjustment
	_, err = f.journals.PostEntry(ctx, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount)
	recID := int64(3)
	input.SourceID = &recID
	_, err = f.journals.PostEntry(ctx, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount)
}

type stubAuthority struct {
	open  map[int64]int64
	calls int
}

func (a *stubAuthority) AuthorizesAdjustment(ctx context.Context, reconciliationID, controlAccountID int64) (bool, error) {
	a.calls++
	account, ok := a.open[reconciliationID]
	return ok && account == controlAccountID, nil
}

func TestPostAdjustmentRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.manual("2025-02-01", f.ar.ID, f.income.ID, 500)

	_, err := f.journals.PostAdjustmentInTx(ctx, 3, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount, "no authority installed")

	authority := &stubAuthority{open: map[int64]int64{3: f.ar.ID, 4: f.cash.ID}}
	f.journals.SetAdjustmentAuthority(authority)

	_, err = f.journals.PostAdjustmentInTx(ctx, 4, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount)
	_, err = f.journals.PostAdjustmentInTx(ctx, 5, input)
	assert.ErrorIs(t, err, shared.ErrControlAccount)

	entry, err := f.journals.PostAdjustmentInTx(ctx, 3, input)
	require.NoError(t, err)
	assert.Equal(t, shared.SourceAdjustment, entry.SourceType)
	require.NotNil(t, entry.SourceID)
	assert.Equal(t, int64(3), *entry.SourceID)
	assert.Equal(t, "ledger:reconciliation:3:adjustment", entry.IdempotencyKey)

	again, err := f.journals.PostAdjustmentInTx(ctx, 3, input)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, entry.ID, again.ID)

	// The authority is not consulted for adjustments to ordinary accounts.
	calls := authority.calls
	_, err = f.journals.PostAdjustmentInTx(ctx, 9, f.manual("2025-02-01", f.cash.ID, f.income.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, calls, authority.calls)
}

func TestPostEntryPeriodGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.journals.PostEntry(ctx, f.manual("2026-01-10", f.cash.ID, f.income.ID, 100))
	assert.ErrorIs(t, err, shared.ErrNoPeriod)

	_, err = f.periods.LockPeriod(ctx, f.spring.ID, 1)
	require.NoError(t, err)
	_, err = f.journals.PostEntry(ctx, f.manual("2025-02-15", f.cash.ID, f.income.ID, 100))
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)

	_, err = f.journals.PostEntry(ctx, f.manual("2025-05-02", f.cash.ID, f.income.ID, 100))
	require.NoError(t, err)
}

func TestPostEntryRejectsInactiveAccountAndFundConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fund, err := f.accounts.CreateFund(ctx, accounts.CreateFundInput{Name: "Scholarships", RestrictionType: accounts.TemporarilyRestricted})
	require.NoError(t, err)
	other, err := f.accounts.CreateFund(ctx, accounts.CreateFundInput{Name: "General"})
	require.NoError(t, err)
	restricted, err := f.accounts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "4100", Name: "Gifts", Type: accounts.AccountTypeIncome, FundID: &fund.ID})
	require.NoError(t, err)

	input := f.manual("2025-02-01", f.cash.ID, restricted.ID, 100)
	entry, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)
	require.NotNil(t, entry.Lines[1].FundID)
	assert.Equal(t, fund.ID, *entry.Lines[1].FundID)
	assert.Nil(t, entry.Lines[0].FundID)

	input.Lines[1].FundID = &other.ID
	_, err = f.journals.PostEntry(ctx, input)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.accounts.DeactivateAccount(ctx, "4000", 1)
	require.NoError(t, err)
	_, err = f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 100))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostEntryIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var observed int
	f.journals.AddObserver(ObserverFunc(func(context.Context, JournalEntry) { observed++ }))

	input := f.manual("2025-02-01", f.cash.ID, f.income.ID, 700)
	input.IdempotencyKey = "webhook-42"
	first, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)
	again, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, observed)
	entries, err := f.journals.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPostEntryKeyReuseWithDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := f.manual("2025-02-01", f.cash.ID, f.income.ID, 700)
	input.IdempotencyKey = "webhook-43"
	first, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)

	bigger := f.manual("2025-02-01", f.cash.ID, f.income.ID, 900)
	bigger.IdempotencyKey = input.IdempotencyKey
	_, err = f.journals.PostEntry(ctx, bigger)
	assert.ErrorIs(t, err, shared.ErrConflict)

	elsewhere := f.manual("2025-02-01", f.income.ID, f.cash.ID, 700)
	elsewhere.IdempotencyKey = input.IdempotencyKey
	_, err = f.journals.PostEntry(ctx, elsewhere)
	assert.ErrorIs(t, err, shared.ErrConflict)

	ref := int64(12)
	sourced := input
	sourced.SourceID = &ref
	_, err = f.journals.PostEntry(ctx, sourced)
	assert.ErrorIs(t, err, shared.ErrConflict)

	again, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	entries, err := f.journals.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPostEntryRejectsReservedKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := f.manual("2025-02-01", f.cash.ID, f.income.ID, 700)
	input.IdempotencyKey = "ledger:reconciliation:1:adjustment"
	_, err := f.journals.PostEntry(ctx, input)
	assert.ErrorIs(t, err, shared.ErrValidation)

	entry, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 700))
	require.NoError(t, err)
	_, err = f.journals.ReverseEntry(ctx, ReverseInput{EntryID: entry.ID, ActorID: 1, IdempotencyKey: "ledger:reversal"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSameRequest(t *testing.T) {
	ref, other := int64(1), int64(2)
	existing := JournalEntry{
		SourceType: shared.SourceManual,
		SourceID:   &ref,
		Lines: []JournalLine{
			{LineNo: 1, AccountID: 10, Debit: 50},
			{LineNo: 2, AccountID: 20, Credit: 50},
		},
	}
	input := PostingInput{
		SourceType: shared.SourceManual,
		SourceID:   &ref,
		Lines: []PostingLineInput{
			{AccountCode: "1000", Debit: 50},
			{AccountID: 20, Credit: 50},
		},
	}
	assert.True(t, sameRequest(existing, input))

	input.SourceID = &other
	assert.False(t, sameRequest(existing, input))
	input.SourceID = nil
	assert.False(t, sameRequest(existing, input))
	input.SourceID = &ref
	input.reversalOf = &ref
	assert.False(t, sameRequest(existing, input))
	input.reversalOf = nil
	input.Lines = input.Lines[:1]
	assert.False(t, sameRequest(existing, input))
}

func TestReverseEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 2500))
	require.NoError(t, err)

	reversal, err := f.journals.ReverseEntry(ctx, ReverseInput{EntryID: original.ID, ActorID: 2})
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, original.ID, *reversal.ReversalOf)
	assert.Equal(t, shared.SourceReversal, reversal.SourceType)
	assert.Equal(t, original.Lines[0].Debit, reversal.Lines[0].Credit)
	assert.Equal(t, original.Date.Time, reversal.Date.Time)

	activity, err := f.journals.AccountActivity(ctx, f.cash.ID, f.spring.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Debit, activity.Credit)

	_, err = f.journals.ReverseEntry(ctx, ReverseInput{EntryID: original.ID, ActorID: 2})
	assert.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.journals.ReverseEntry(ctx, ReverseInput{EntryID: reversal.ID, ActorID: 2})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestReverseEntryMovesOutOfLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.journals.PostEntry(ctx, f.manual("2025-03-01", f.cash.ID, f.income.ID, 900))
	require.NoError(t, err)
	_, err = f.periods.LockPeriod(ctx, f.spring.ID, 1)
	require.NoError(t, err)

	reversal, err := f.journals.ReverseEntry(ctx, ReverseInput{EntryID: original.ID, ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, f.summer.ID, reversal.PeriodID)
	assert.Equal(t, f.summer.StartDate, reversal.Date.Time)

	explicit := day("2025-03-05")
	_, err = f.journals.ReverseEntry(ctx, ReverseInput{EntryID: reversal.ID, ActorID: 2, Date: &explicit})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestReverseSubledgerEntryRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.manual("2025-02-01", f.ar.ID, f.income.ID, 500)
	input.SourceType = shared.SourceARBill
	bill, err := f.journals.PostEntry(ctx, input)
	require.NoError(t, err)

	_, err = f.journals.ReverseEntry(ctx, ReverseInput{EntryID: bill.ID})
	assert.ErrorIs(t, err, shared.ErrControlAccount)
}

func TestTrialBalanceAndProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 1000))
	require.NoError(t, err)
	_, err = f.journals.PostEntry(ctx, f.manual("2025-02-03", f.income.ID, f.cash.ID, 300))
	require.NoError(t, err)

	tb, err := f.journals.TrialBalance(ctx, f.spring.ID)
	require.NoError(t, err)
	assert.True(t, tb.Balanced)
	require.Len(t, tb.Rows, 2)
	assert.Equal(t, "1000", tb.Rows[0].Code)
	assert.Equal(t, int64(700), tb.Rows[0].Balance)
	assert.Equal(t, int64(700), tb.Rows[1].Balance)

	drift, err := f.journals.VerifyBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	require.NoError(t, f.repo.ApplyBalances(ctx, []Balance{{AccountID: f.cash.ID, PeriodID: f.spring.ID, Debit: 5}}))
	drift, err = f.journals.VerifyBalances(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, int64(1005), drift[0].CachedDebit)
	assert.Equal(t, int64(1000), drift[0].JournalDebit)

	n, err := f.journals.RebuildBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	drift, err = f.journals.VerifyBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestAccountInUseAfterPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 1000))
	require.NoError(t, err)

	err = f.accounts.DeleteAccount(ctx, "1000", 1)
	assert.ErrorIs(t, err, shared.ErrAccountInUse)
}

func TestConcurrentPostingsKeepProjectionConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.journals.PostEntry(ctx, f.manual("2025-02-01", f.cash.ID, f.income.ID, 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	activity, err := f.journals.AccountActivity(ctx, f.cash.ID, f.spring.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), activity.Debit)
	drift, err := f.journals.VerifyBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}
