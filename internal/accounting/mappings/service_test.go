package mappings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

func TestSetAndResolveMapping(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	auditSvc := audit.NewService(audit.NewMemoryRepository(store))
	accts := accounts.NewService(accounts.NewMemoryRepository(store), auditSvc)
	svc := NewService(NewMemoryRepository(store), accts, auditSvc)

	cash, err := accts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "1000", Name: "Cash", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)
	bank, err := accts.CreateAccount(ctx, accounts.CreateAccountInput{Code: "1010", Name: "Bank", Type: accounts.AccountTypeAsset})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "ar", KeyARCash)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	m, err := svc.SetMapping(ctx, "ar", KeyARCash, "1000", 7)
	require.NoError(t, err)
	assert.Equal(t, ModuleAR, m.Module)

	got, err := svc.Resolve(ctx, "AR", KeyARCash)
	require.NoError(t, err)
	assert.Equal(t, cash.ID, got.ID)

	_, err = svc.SetMapping(ctx, "AR", KeyARCash, "1010", 7)
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, "AR", KeyARCash)
	require.NoError(t, err)
	assert.Equal(t, bank.ID, got.ID)

	rows, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = accts.DeactivateAccount(ctx, "1010", 7)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, "AR", KeyARCash)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.SetMapping(ctx, "AR", KeyARCash, "9999", 7)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	logs, err := auditSvc.Timeline(ctx, audit.TimelineFilters{Entity: "account_mappings"})
	require.NoError(t, err)
	assert.Len(t, logs.Rows, 2)
}
