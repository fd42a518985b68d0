package accounts

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store    *memstore.Store
	accounts *memstore.Table[Account]
	funds    *memstore.Table[Fund]
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{
		store:    store,
		accounts: memstore.NewTable[Account](store, nil),
		funds:    memstore.NewTable[Fund](store, nil),
	}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if _, ok := r.accounts.Find(func(x Account) bool { return x.Code == a.Code }); ok {
		return Account{}, &shared.DuplicateCodeError{Code: a.Code}
	}
	a.ID = r.store.NextID("accounts")
	r.accounts.Put(a.ID, a)
	return a, nil
}

func (r *memoryRepository) UpdateAccount(ctx context.Context, a Account) error {
	release := r.store.Acquire(ctx)
	defer release()
	if _, ok := r.accounts.Get(a.ID); !ok {
		return shared.NotFound("account", a.ID)
	}
	r.accounts.Put(a.ID, a)
	return nil
}

func (r *memoryRepository) DeleteAccount(ctx context.Context, a Account) error {
	release := r.store.Acquire(ctx)
	defer release()
	r.accounts.Delete(a.ID)
	return nil
}

func (r *memoryRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	release := r.store.Acquire(ctx)
	defer release()
	a, ok := r.accounts.Find(func(x Account) bool { return x.Code == code })
	if !ok {
		return Account{}, shared.NotFound("account", code)
	}
	return a, nil
}

func (r *memoryRepository) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	release := r.store.Acquire(ctx)
	defer release()
	a, ok := r.accounts.Get(id)
	if !ok {
		return Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (r *memoryRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.accounts.All()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepository) CountChildren(ctx context.Context, id int64) (int, error) {
	release := r.store.Acquire(ctx)
	defer release()
	return len(r.accounts.Filter(func(x Account) bool { return x.ParentID != nil && *x.ParentID == id })), nil
}

func (r *memoryRepository) InsertFund(ctx context.Context, f Fund) (Fund, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if _, ok := r.funds.Find(func(x Fund) bool { return x.Name == f.Name }); ok {
		return Fund{}, shared.Invalid("name", "fund already exists")
	}
	f.ID = r.store.NextID("funds")
	r.funds.Put(f.ID, f)
	return f, nil
}

func (r *memoryRepository) UpdateFund(ctx context.Context, f Fund) error {
	release := r.store.Acquire(ctx)
	defer release()
	r.funds.Put(f.ID, f)
	return nil
}

func (r *memoryRepository) GetFund(ctx context.Context, id int64) (Fund, error) {
	release := r.store.Acquire(ctx)
	defer release()
	f, ok := r.funds.Get(id)
	if !ok {
		return Fund{}, shared.NotFound("fund", id)
	}
	return f, nil
}

func (r *memoryRepository) ListFunds(ctx context.Context) ([]Fund, error) {
	release := r.store.Acquire(ctx)
	defer release()
	return r.funds.All(), nil
}
