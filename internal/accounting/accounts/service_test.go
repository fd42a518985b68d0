package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type stubUsage struct {
	used map[int64]bool
}

func (u stubUsage) AccountHasPostings(ctx context.Context, accountID int64) (bool, error) {
	return u.used[accountID], nil
}

func newTestService(t *testing.T) (*Service, *audit.Service) {
	t.Helper()
	store := memstore.New()
	auditSvc := audit.NewService(audit.NewMemoryRepository(store))
	return NewService(NewMemoryRepository(store), auditSvc), auditSvc
}

func TestCreateAccountDefaultsAndHierarchy(t *testing.T) {
	svc, auditSvc := newTestService(t)
	ctx := context.Background()

	root, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "1000", Name: "Assets", Type: AccountTypeAsset, ActorID: 3})
	require.NoError(t, err)
	assert.Equal(t, NormalDebit, root.NormalBalance)
	assert.Nil(t, root.ParentID)

	child, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "1000.100", Name: "Cash", Type: AccountTypeAsset})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)

	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "1000.100", Name: "Again", Type: AccountTypeAsset})
	var dup *shared.DuplicateCodeError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "1000.100", dup.Code)

	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "4000.100", Name: "Tuition", Type: AccountTypeIncome})
	assert.ErrorIs(t, err, shared.ErrInvalidHierarchy)

	log, err := auditSvc.Timeline(ctx, audit.TimelineFilters{Entity: "accounts", Action: "account.create"})
	require.NoError(t, err)
	assert.Len(t, log.Rows, 2)
}

func TestCreateAccountValidatesControlOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "1200", Name: "AR", Type: AccountTypeAsset, IsControl: true})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "2100", Name: "AP", Type: AccountTypeAsset, IsControl: true, ControlOwner: shared.OwnerAP})
	assert.ErrorIs(t, err, shared.ErrValidation)

	ap, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "2100", Name: "AP", Type: AccountTypeLiability, IsControl: true, ControlOwner: shared.OwnerAP})
	require.NoError(t, err)
	assert.Equal(t, NormalCredit, ap.NormalBalance)

	controls, err := svc.ListControlAccounts(ctx, shared.OwnerAP)
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.Equal(t, "2100", controls[0].Code)

	_, err = svc.DeactivateAccount(ctx, "2100", 1)
	require.NoError(t, err)
	controls, err = svc.ListControlAccounts(ctx, shared.OwnerAP)
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.False(t, controls[0].IsActive)
}

func TestCreateAccountRejectsInactiveFund(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fund, err := svc.CreateFund(ctx, CreateFundInput{Name: "Endowment", RestrictionType: PermanentlyRestricted})
	require.NoError(t, err)
	_, err = svc.DeactivateFund(ctx, fund.ID, 1)
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "3000", Name: "Net assets", Type: AccountTypeEquity, FundID: &fund.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteAccountInUse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cash, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "1000", Name: "Cash", Type: AccountTypeAsset})
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, CreateAccountInput{Code: "5000", Name: "Supplies", Type: AccountTypeExpense})
	require.NoError(t, err)
	svc.SetUsageChecker(stubUsage{used: map[int64]bool{cash.ID: true}})

	err = svc.DeleteAccount(ctx, "1000", 1)
	var inUse *shared.AccountInUseError
	require.True(t, errors.As(err, &inUse))

	require.NoError(t, svc.DeleteAccount(ctx, "5000", 1))
	_, err = svc.GetAccount(ctx, "5000")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeactivatedAccountRejectedForPosting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acct, err := svc.CreateAccount(ctx, CreateAccountInput{Code: "4000", Name: "Tuition", Type: AccountTypeIncome})
	require.NoError(t, err)

	_, err = svc.ResolveForPosting(ctx, acct.ID, "")
	require.NoError(t, err)

	deactivated, err := svc.DeactivateAccount(ctx, "4000", 9)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = svc.ResolveForPosting(ctx, 0, "4000")
	assert.ErrorIs(t, err, shared.ErrValidation)

	got, err := svc.GetAccount(ctx, "4000")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
}

func TestSignedUsesNormalBalance(t *testing.T) {
	assert.Equal(t, int64(200), Account{NormalBalance: NormalDebit}.Signed(500, 300))
	assert.Equal(t, int64(-200), Account{NormalBalance: NormalCredit}.Signed(500, 300))
	assert.Equal(t, "1000.100", ParentCode("1000.100.10"))
	assert.Equal(t, "", ParentCode("1000"))
}
