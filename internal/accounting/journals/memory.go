package journals

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type memoryRepository struct {
	store    *memstore.Store
	entries  *memstore.Table[JournalEntry]
	balances *memstore.Table[Balance]
	// balanceIDs assigns stable row ids to projection keys.
	balanceIDs map[balanceKey]int64
}

// NewMemoryRepository returns a repository backed by store.
func NewMemoryRepository(store *memstore.Store) Repository {
	return &memoryRepository{
		store:      store,
		entries:    memstore.NewTable[JournalEntry](store, cloneEntry),
		balances:   memstore.NewTable[Balance](store, nil),
		balanceIDs: make(map[balanceKey]int64),
	}
}

func (r *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func (r *memoryRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	release := r.store.Acquire(ctx)
	defer release()
	if e.IdempotencyKey != "" {
		if _, ok := r.entries.Find(func(x JournalEntry) bool { return x.IdempotencyKey == e.IdempotencyKey }); ok {
			return JournalEntry{}, errDuplicateKey
		}
	}
	if e.ReversalOf != nil {
		if _, ok := r.entries.Find(func(x JournalEntry) bool { return x.ReversalOf != nil && *x.ReversalOf == *e.ReversalOf }); ok {
			return JournalEntry{}, &shared.ConflictError{Reason: "entry already reversed"}
		}
	}
	e.ID = r.store.NextID("journal_entries")
	e.Sequence = r.store.NextID("journal_entries_sequence")
	e = cloneEntry(e)
	for i := range e.Lines {
		e.Lines[i].ID = r.store.NextID("journal_lines")
		e.Lines[i].EntryID = e.ID
	}
	r.entries.Put(e.ID, e)
	return e, nil
}

func (r *memoryRepository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	release := r.store.Acquire(ctx)
	defer release()
	e, ok := r.entries.Get(id)
	if !ok {
		return JournalEntry{}, shared.NotFound("journal entry", id)
	}
	return e, nil
}

func (r *memoryRepository) FindByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error) {
	release := r.store.Acquire(ctx)
	defer release()
	e, ok := r.entries.Find(func(x JournalEntry) bool { return x.IdempotencyKey == key })
	if !ok {
		return JournalEntry{}, shared.NotFound("journal entry", key)
	}
	return e, nil
}

func (r *memoryRepository) FindReversal(ctx context.Context, id int64) (JournalEntry, error) {
	release := r.store.Acquire(ctx)
	defer release()
	e, ok := r.entries.Find(func(x JournalEntry) bool { return x.ReversalOf != nil && *x.ReversalOf == id })
	if !ok {
		return JournalEntry{}, shared.NotFound("journal entry", id)
	}
	return e, nil
}

func (r *memoryRepository) ListEntries(ctx context.Context, f Filter) ([]JournalEntry, error) {
	release := r.store.Acquire(ctx)
	defer release()
	out := r.entries.Filter(f.matches)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].Sequence < out[j].Sequence
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memoryRepository) ApplyBalances(ctx context.Context, deltas []Balance) error {
	release := r.store.Acquire(ctx)
	defer release()
	for _, d := range deltas {
		id, ok := r.balanceIDs[d.key()]
		if !ok {
			id = r.store.NextID("account_balances")
			r.balanceIDs[d.key()] = id
		}
		current, found := r.balances.Get(id)
		if !found {
			current = Balance{AccountID: d.AccountID, FundID: d.FundID, PeriodID: d.PeriodID}
		}
		current.Debit += d.Debit
		current.Credit += d.Credit
		r.balances.Put(id, current)
	}
	return nil
}

func (r *memoryRepository) SumActivity(ctx context.Context, accountID, periodID int64) (Activity, error) {
	release := r.store.Acquire(ctx)
	defer release()
	a := Activity{AccountID: accountID, PeriodID: periodID}
	for _, e := range r.entries.Filter(func(x JournalEntry) bool { return x.PeriodID == periodID }) {
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				a.Debit += l.Debit
				a.Credit += l.Credit
			}
		}
	}
	return a, nil
}

func (r *memoryRepository) SumJournal(ctx context.Context, periodID int64) ([]Balance, error) {
	release := r.store.Acquire(ctx)
	defer release()
	sums := make(map[balanceKey]*Balance)
	var keys []balanceKey
	for _, e := range r.entries.All() {
		if periodID != 0 && e.PeriodID != periodID {
			continue
		}
		for _, l := range e.Lines {
			k := balanceKey{l.AccountID, fundKey(l.FundID), e.PeriodID}
			b, ok := sums[k]
			if !ok {
				b = &Balance{AccountID: k.account, FundID: k.fund, PeriodID: k.period}
				sums[k] = b
				keys = append(keys, k)
			}
			b.Debit += l.Debit
			b.Credit += l.Credit
		}
	}
	return sortedBalances(sums, keys), nil
}

func sortedBalances(sums map[balanceKey]*Balance, keys []balanceKey) []Balance {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.period != b.period {
			return a.period < b.period
		}
		if a.account != b.account {
			return a.account < b.account
		}
		return a.fund < b.fund
	})
	out := make([]Balance, 0, len(keys))
	for _, k := range keys {
		out = append(out, *sums[k])
	}
	return out
}

func (r *memoryRepository) ListBalances(ctx context.Context) ([]Balance, error) {
	release := r.store.Acquire(ctx)
	defer release()
	sums := make(map[balanceKey]*Balance)
	var keys []balanceKey
	for _, b := range r.balances.All() {
		b := b
		sums[b.key()] = &b
		keys = append(keys, b.key())
	}
	return sortedBalances(sums, keys), nil
}

func (r *memoryRepository) ReplaceBalances(ctx context.Context, rows []Balance) error {
	release := r.store.Acquire(ctx)
	defer release()
	for _, b := range r.balances.All() {
		r.balances.Delete(r.balanceIDs[b.key()])
	}
	for _, b := range rows {
		id, ok := r.balanceIDs[b.key()]
		if !ok {
			id = r.store.NextID("account_balances")
			r.balanceIDs[b.key()] = id
		}
		r.balances.Put(id, b)
	}
	return nil
}

func (r *memoryRepository) HasPostings(ctx context.Context, accountID int64) (bool, error) {
	release := r.store.Acquire(ctx)
	defer release()
	_, ok := r.entries.Find(func(x JournalEntry) bool {
		for _, l := range x.Lines {
			if l.AccountID == accountID {
				return true
			}
		}
		return false
	})
	return ok, nil
}
