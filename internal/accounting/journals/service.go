package journals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// AuditPort records postings.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// AccountResolver is the slice of the account registry postings need.
type AccountResolver interface {
	ResolveForPosting(ctx context.Context, id int64, code string) (accounts.Account, error)
	ResolveFund(ctx context.Context, id int64) (accounts.Fund, error)
	ListAccounts(ctx context.Context) ([]accounts.Account, error)
}

// PeriodGate is the slice of the period manager postings need.
type PeriodGate interface {
	RequirePostable(ctx context.Context, date time.Time) (periods.Period, error)
	GetPeriod(ctx context.Context, id int64) (periods.Period, error)
	NextOpenAfter(ctx context.Context, date time.Time) (periods.Period, error)
}

// Observer is told about every committed entry. Observers must not block
// and handle their own failures.
type Observer interface {
	EntryPosted(ctx context.Context, entry JournalEntry)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, entry JournalEntry)

// EntryPosted implements Observer.
func (f ObserverFunc) EntryPosted(ctx context.Context, entry JournalEntry) { f(ctx, entry) }

// AdjustmentAuthority confirms that an adjustment touching a control
// account resolves an open reconciliation of that account.
type AdjustmentAuthority interface {
	AuthorizesAdjustment(ctx context.Context, reconciliationID, controlAccountID int64) (bool, error)
}

// Service is the journal engine.
type Service struct {
	repo      Repository
	accounts  AccountResolver
	periods   PeriodGate
	audit     AuditPort
	authority AdjustmentAuthority
	observers []Observer
	now       func() time.Time
}

// NewService constructs the journal engine.
func NewService(repo Repository, accts AccountResolver, gate PeriodGate, audit AuditPort) *Service {
	return &Service{repo: repo, accounts: accts, periods: gate, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetAdjustmentAuthority installs the check consulted before an adjustment
// may touch a control account. Without one such adjustments are refused.
func (s *Service) SetAdjustmentAuthority(a AdjustmentAuthority) {
	s.authority = a
}

// AddObserver registers a post-commit observer.
func (s *Service) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// PostEntry validates and posts an entry in its own transaction, then
// notifies observers.
func (s *Service) PostEntry(ctx context.Context, input PostingInput) (JournalEntry, error) {
	entry, err := s.post(ctx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	if !entry.Replayed {
		s.Notify(ctx, entry)
	}
	return entry, nil
}

// PostInTx posts within the transaction carried by ctx. The caller owns the
// commit and calls Notify once it succeeds.
func (s *Service) PostInTx(ctx context.Context, input PostingInput) (JournalEntry, error) {
	return s.post(ctx, input)
}

// PostAdjustmentInTx posts the adjustment resolving a reconciliation within
// the transaction carried by ctx. Source and idempotency key derive from the
// reconciliation id; a second call for the same reconciliation replays.
func (s *Service) PostAdjustmentInTx(ctx context.Context, reconciliationID int64, input PostingInput) (JournalEntry, error) {
	input.SourceType = shared.SourceAdjustment
	input.SourceID = &reconciliationID
	input.IdempotencyKey = fmt.Sprintf("%sreconciliation:%d:adjustment", reservedKeyPrefix, reconciliationID)
	input.engine = true
	return s.post(ctx, input)
}

// Notify fans a committed entry out to the observers.
func (s *Service) Notify(ctx context.Context, entry JournalEntry) {
	for _, o := range s.observers {
		o.EntryPosted(ctx, entry)
	}
}

func (s *Service) post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	input.Memo = strings.TrimSpace(input.Memo)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if !input.engine && strings.HasPrefix(input.IdempotencyKey, reservedKeyPrefix) {
		return JournalEntry{}, shared.Invalid("idempotency_key", fmt.Sprintf("prefix %q is reserved", reservedKeyPrefix))
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, err := tx.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if err == nil {
				if !sameRequest(existing, input) {
					return keyReused(input.IdempotencyKey)
				}
				existing.Replayed = true
				entry = existing
				return nil
			}
			if !shared.IsNotFound(err) {
				return err
			}
		}
		lines, err := s.resolveLines(ctx, input)
		if err != nil {
			return err
		}
		period, err := s.periods.RequirePostable(ctx, input.Date)
		if err != nil {
			return err
		}
		now := s.now()
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			PeriodID:       period.ID,
			Date:           shared.NewDate(input.Date),
			Memo:           input.Memo,
			SourceType:     input.SourceType,
			SourceID:       input.SourceID,
			ReversalOf:     input.reversalOf,
			IdempotencyKey: input.IdempotencyKey,
			PostedBy:       input.PostedBy,
			PostedAt:       now,
			Lines:          lines,
		})
		if err != nil {
			return err
		}
		if err := tx.ApplyBalances(ctx, balanceDeltas(inserted)); err != nil {
			return err
		}
		entry = inserted
		meta := map[string]any{
			"sequence":    inserted.Sequence,
			"source_type": string(inserted.SourceType),
			"period_id":   inserted.PeriodID,
		}
		if inserted.SourceID != nil {
			meta["source_id"] = *inserted.SourceID
		}
		if inserted.ReversalOf != nil {
			meta["reversal_of"] = *inserted.ReversalOf
		}
		return s.record(ctx, input.PostedBy, "journal.post", inserted.ID, inserted, meta)
	})
	if errors.Is(err, errDuplicateKey) {
		// Lost the race with a concurrent request carrying the same key.
		existing, ferr := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
		if ferr != nil {
			return JournalEntry{}, ferr
		}
		if !sameRequest(existing, input) {
			return JournalEntry{}, keyReused(input.IdempotencyKey)
		}
		existing.Replayed = true
		return existing, nil
	}
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// resolveLines checks account and fund references and control account
// ownership. Runs inside the posting transaction.
func (s *Service) resolveLines(ctx context.Context, input PostingInput) ([]JournalLine, error) {
	lines := make([]JournalLine, 0, len(input.Lines))
	funds := make(map[int64]bool)
	for idx, in := range input.Lines {
		account, err := s.accounts.ResolveForPosting(ctx, in.AccountID, in.AccountCode)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil, shared.Invalid("lines", "unknown account "+accountRef(in))
			}
			return nil, err
		}
		if account.IsControl {
			ok, err := s.controlAllowed(ctx, account, input)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &shared.ControlAccountViolationError{AccountCode: account.Code, SourceType: input.SourceType}
			}
		}
		fundID := in.FundID
		if account.FundID != nil {
			if fundID != nil && *fundID != *account.FundID {
				return nil, shared.Invalid("lines", "fund override conflicts with account "+account.Code)
			}
			fundID = account.FundID
		}
		if fundID != nil && !funds[*fundID] {
			if _, err := s.accounts.ResolveFund(ctx, *fundID); err != nil {
				if shared.IsNotFound(err) {
					return nil, shared.Invalid("lines", "unknown fund")
				}
				return nil, err
			}
			funds[*fundID] = true
		}
		lines = append(lines, JournalLine{
			LineNo:      idx + 1,
			AccountID:   account.ID,
			FundID:      fundID,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: strings.TrimSpace(in.Description),
		})
	}
	return lines, nil
}

// controlAllowed admits the owning subledger, and adjustments posted through
// PostAdjustmentInTx that the authority ties to an open reconciliation of
// the account.
func (s *Service) controlAllowed(ctx context.Context, account accounts.Account, input PostingInput) (bool, error) {
	if owner := input.SourceType.Owner(); owner != "" {
		return owner == account.ControlOwner, nil
	}
	if input.SourceType != shared.SourceAdjustment || !input.engine || input.SourceID == nil || s.authority == nil {
		return false, nil
	}
	return s.authority.AuthorizesAdjustment(ctx, *input.SourceID, account.ID)
}

// sameRequest reports whether a stored entry answers the posting request
// that reused its idempotency key.
func sameRequest(existing JournalEntry, input PostingInput) bool {
	if existing.SourceType != input.SourceType ||
		!sameRef(existing.SourceID, input.SourceID) ||
		!sameRef(existing.ReversalOf, input.reversalOf) ||
		len(existing.Lines) != len(input.Lines) {
		return false
	}
	for i, in := range input.Lines {
		l := existing.Lines[i]
		if l.Debit != in.Debit || l.Credit != in.Credit {
			return false
		}
		if in.AccountID != 0 && l.AccountID != in.AccountID {
			return false
		}
	}
	return true
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func keyReused(key string) error {
	return &shared.ConflictError{Reason: fmt.Sprintf("idempotency key %q was used for a different entry", key)}
}

func accountRef(in PostingLineInput) string {
	if in.AccountID != 0 {
		return audit.EntityID(in.AccountID)
	}
	return in.AccountCode
}

func balanceDeltas(e JournalEntry) []Balance {
	sums := make(map[balanceKey]*Balance)
	var order []balanceKey
	for _, l := range e.Lines {
		k := balanceKey{l.AccountID, fundKey(l.FundID), e.PeriodID}
		b, ok := sums[k]
		if !ok {
			b = &Balance{AccountID: k.account, FundID: k.fund, PeriodID: k.period}
			sums[k] = b
			order = append(order, k)
		}
		b.Debit += l.Debit
		b.Credit += l.Credit
	}
	// Fixed key order keeps concurrent upserts from deadlocking.
	return sortedBalances(sums, order)
}

// ReverseEntry posts the mirror image of an entry. Each entry can be
// reversed once.
func (s *Service) ReverseEntry(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, shared.Invalid("entry_id", "is required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.SourceType == shared.SourceReversal {
			return &shared.ConflictError{Reason: "a reversing entry cannot be reversed"}
		}
		if _, err := tx.FindReversal(ctx, original.ID); err == nil {
			return &shared.ConflictError{Reason: "entry already reversed"}
		} else if !shared.IsNotFound(err) {
			return err
		}
		date := original.Date.Time
		if input.Date != nil {
			date = shared.Day(*input.Date)
		} else {
			period, err := s.periods.GetPeriod(ctx, original.PeriodID)
			if err != nil {
				return err
			}
			if period.IsLocked() {
				next, err := s.periods.NextOpenAfter(ctx, period.EndDate)
				if err != nil {
					return err
				}
				date = next.StartDate
			}
		}
		posted, err := s.post(ctx, PostingInput{
			Date:           date,
			Memo:           defaultReversalMemo(input.Memo, original.Sequence),
			SourceType:     shared.SourceReversal,
			SourceID:       &original.ID,
			IdempotencyKey: input.IdempotencyKey,
			PostedBy:       input.ActorID,
			Lines:          reverseLines(original.Lines),
			reversalOf:     &original.ID,
		})
		if err != nil {
			return err
		}
		reversal = posted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if !reversal.Replayed {
		s.Notify(ctx, reversal)
	}
	return reversal, nil
}

// GetEntry returns an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// ListEntries returns entries ordered by (date, sequence).
func (s *Service) ListEntries(ctx context.Context, filter Filter) ([]JournalEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// EntriesBySource returns the entries produced by the given source records.
func (s *Service) EntriesBySource(ctx context.Context, sourceType shared.SourceType, ids []int64) ([]JournalEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.ListEntries(ctx, Filter{SourceType: sourceType, SourceIDs: ids})
}

// AccountActivity totals an account's lines in a period straight from the
// journal.
func (s *Service) AccountActivity(ctx context.Context, accountID, periodID int64) (Activity, error) {
	return s.repo.SumActivity(ctx, accountID, periodID)
}

// AccountHasPostings reports whether any line references the account.
func (s *Service) AccountHasPostings(ctx context.Context, accountID int64) (bool, error) {
	return s.repo.HasPostings(ctx, accountID)
}

// TrialBalance totals every account with activity in the period.
func (s *Service) TrialBalance(ctx context.Context, periodID int64) (TrialBalance, error) {
	period, err := s.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return TrialBalance{}, err
	}
	sums, err := s.repo.SumJournal(ctx, periodID)
	if err != nil {
		return TrialBalance{}, err
	}
	all, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return TrialBalance{}, err
	}
	byID := make(map[int64]accounts.Account, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}
	rows := make(map[int64]*TrialBalanceRow)
	tb := TrialBalance{PeriodID: period.ID, PeriodName: period.Name}
	for _, b := range sums {
		row, ok := rows[b.AccountID]
		if !ok {
			a := byID[b.AccountID]
			row = &TrialBalanceRow{AccountID: b.AccountID, Code: a.Code, Name: a.Name, Type: string(a.Type)}
			rows[b.AccountID] = row
		}
		row.Debit += b.Debit
		row.Credit += b.Credit
		tb.TotalDebit += b.Debit
		tb.TotalCredit += b.Credit
	}
	tb.Rows = make([]TrialBalanceRow, 0, len(rows))
	for id, row := range rows {
		row.Balance = byID[id].Signed(row.Debit, row.Credit)
		tb.Rows = append(tb.Rows, *row)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	tb.Balanced = tb.TotalDebit == tb.TotalCredit
	return tb, nil
}

// RebuildBalances recomputes the balance projection from the journal.
func (s *Service) RebuildBalances(ctx context.Context) (int, error) {
	var n int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sums, err := tx.SumJournal(ctx, 0)
		if err != nil {
			return err
		}
		n = len(sums)
		return tx.ReplaceBalances(ctx, sums)
	})
	return n, err
}

// VerifyBalances compares the projection with the journal.
func (s *Service) VerifyBalances(ctx context.Context) ([]Drift, error) {
	journal, err := s.repo.SumJournal(ctx, 0)
	if err != nil {
		return nil, err
	}
	cached, err := s.repo.ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[balanceKey]Balance, len(cached))
	for _, b := range cached {
		byKey[b.key()] = b
	}
	var drift []Drift
	for _, j := range journal {
		c, ok := byKey[j.key()]
		delete(byKey, j.key())
		if ok && c.Debit == j.Debit && c.Credit == j.Credit {
			continue
		}
		drift = append(drift, Drift{AccountID: j.AccountID, FundID: j.FundID, PeriodID: j.PeriodID,
			CachedDebit: c.Debit, CachedCredit: c.Credit, JournalDebit: j.Debit, JournalCredit: j.Credit})
	}
	for _, c := range byKey {
		if c.Debit == 0 && c.Credit == 0 {
			continue
		}
		drift = append(drift, Drift{AccountID: c.AccountID, FundID: c.FundID, PeriodID: c.PeriodID,
			CachedDebit: c.Debit, CachedCredit: c.Credit})
	}
	sort.Slice(drift, func(i, k int) bool {
		if drift[i].PeriodID != drift[k].PeriodID {
			return drift[i].PeriodID < drift[k].PeriodID
		}
		return drift[i].AccountID < drift[k].AccountID
	})
	return drift, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, entry JournalEntry, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entries",
		EntityID: audit.EntityID(id),
		New:      audit.Snapshot(entry),
		Meta:     meta,
		At:       s.now(),
	})
}
