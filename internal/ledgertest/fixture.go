// Package ledgertest wires the in-memory ledger core for package tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

// Ledger is a seeded in-memory ledger: a chart with cash, AR and AP control,
// tuition income and supplies expense, default module mappings and two
// contiguous periods, Spring-2025 and Summer-2025.
type Ledger struct {
	Store    *memstore.Store
	Audit    *audit.Service
	Accounts *accounts.Service
	Periods  *periods.Service
	Journals *journals.Service
	Mappings *mappings.Service

	Cash    accounts.Account
	ARCtl   accounts.Account
	APCtl   accounts.Account
	Income  accounts.Account
	Expense accounts.Account
	Spring  periods.Period
	Summer  periods.Period
}

// Day parses YYYY-MM-DD or panics.
func Day(s string) time.Time {
	t, err := time.Parse(shared.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// New builds and seeds a Ledger.
func New(t testing.TB) *Ledger {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	l := &Ledger{Store: store, Audit: audit.NewService(audit.NewMemoryRepository(store))}
	l.Accounts = accounts.NewService(accounts.NewMemoryRepository(store), l.Audit)
	l.Periods = periods.NewService(periods.NewMemoryRepository(store), l.Audit)
	l.Journals = journals.NewService(journals.NewMemoryRepository(store), l.Accounts, l.Periods, l.Audit)
	l.Accounts.SetUsageChecker(l.Journals)
	l.Mappings = mappings.NewService(mappings.NewMemoryRepository(store), l.Accounts, l.Audit)

	l.Cash = l.account(t, accounts.CreateAccountInput{Code: "1000", Name: "Cash", Type: accounts.AccountTypeAsset})
	l.ARCtl = l.account(t, accounts.CreateAccountInput{Code: "1200", Name: "Student receivables", Type: accounts.AccountTypeAsset, IsControl: true, ControlOwner: shared.OwnerAR})
	l.APCtl = l.account(t, accounts.CreateAccountInput{Code: "2100", Name: "Vendor payables", Type: accounts.AccountTypeLiability, IsControl: true, ControlOwner: shared.OwnerAP})
	l.Income = l.account(t, accounts.CreateAccountInput{Code: "4000", Name: "Tuition", Type: accounts.AccountTypeIncome})
	l.Expense = l.account(t, accounts.CreateAccountInput{Code: "5000", Name: "Supplies", Type: accounts.AccountTypeExpense})

	for _, m := range []struct{ module, key, code string }{
		{mappings.ModuleAR, mappings.KeyARControl, "1200"},
		{mappings.ModuleAR, mappings.KeyARCash, "1000"},
		{mappings.ModuleAR, mappings.KeyARIncome, "4000"},
		{mappings.ModuleAP, mappings.KeyAPControl, "2100"},
		{mappings.ModuleAP, mappings.KeyAPCash, "1000"},
		{mappings.ModuleAP, mappings.KeyAPExpense, "5000"},
	} {
		_, err := l.Mappings.SetMapping(ctx, m.module, m.key, m.code, 1)
		require.NoError(t, err)
	}

	var err error
	l.Spring, err = l.Periods.CreatePeriod(ctx, periods.CreateInput{Name: "Spring-2025", StartDate: Day("2025-01-01"), EndDate: Day("2025-04-30"), ActorID: 1})
	require.NoError(t, err)
	l.Summer, err = l.Periods.CreatePeriod(ctx, periods.CreateInput{Name: "Summer-2025", StartDate: Day("2025-05-01"), EndDate: Day("2025-08-31"), ActorID: 1})
	require.NoError(t, err)
	return l
}

func (l *Ledger) account(t testing.TB, in accounts.CreateAccountInput) accounts.Account {
	t.Helper()
	in.ActorID = 1
	a, err := l.Accounts.CreateAccount(context.Background(), in)
	require.NoError(t, err)
	return a
}

// Signed returns the signed GL activity of account in period.
func (l *Ledger) Signed(t testing.TB, account accounts.Account, periodID int64) int64 {
	t.Helper()
	act, err := l.Journals.AccountActivity(context.Background(), account.ID, periodID)
	require.NoError(t, err)
	return account.Signed(act.Debit, act.Credit)
}
