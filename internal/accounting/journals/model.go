package journals

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// JournalEntry captures posting metadata. Entries are append-only.
type JournalEntry struct {
	ID             int64             `json:"id"`
	Sequence       int64             `json:"sequence"`
	PeriodID       int64             `json:"period_id"`
	Date           shared.Date       `json:"date"`
	Memo           string            `json:"memo"`
	SourceType     shared.SourceType `json:"source_type"`
	SourceID       *int64            `json:"source_id,omitempty"`
	ReversalOf     *int64            `json:"reversal_of,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	PostedBy       int64             `json:"posted_by"`
	PostedAt       time.Time         `json:"posted_at"`
	Lines          []JournalLine     `json:"lines"`

	// Replayed marks a response served from an earlier posting with the
	// same idempotency key.
	Replayed bool `json:"-"`
}

// Totals sums both sides of the entry.
func (e JournalEntry) Totals() (debit, credit int64) {
	for _, l := range e.Lines {
		debit += l.Debit
		credit += l.Credit
	}
	return debit, credit
}

func cloneEntry(e JournalEntry) JournalEntry {
	e.Lines = append([]JournalLine(nil), e.Lines...)
	return e
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          int64  `json:"id"`
	EntryID     int64  `json:"entry_id"`
	LineNo      int    `json:"line_no"`
	AccountID   int64  `json:"account_id"`
	FundID      *int64 `json:"fund_id,omitempty"`
	Debit       int64  `json:"debit"`
	Credit      int64  `json:"credit"`
	Description string `json:"description,omitempty"`
}

// Balance is a row of the (account, fund, period) projection. FundID 0
// stands for lines without a fund.
type Balance struct {
	AccountID int64 `json:"account_id"`
	FundID    int64 `json:"fund_id"`
	PeriodID  int64 `json:"period_id"`
	Debit     int64 `json:"debit"`
	Credit    int64 `json:"credit"`
}

type balanceKey struct {
	account, fund, period int64
}

func (b Balance) key() balanceKey { return balanceKey{b.AccountID, b.FundID, b.PeriodID} }

func fundKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// Activity is the journal derived total for one account.
type Activity struct {
	AccountID int64 `json:"account_id"`
	PeriodID  int64 `json:"period_id"`
	Debit     int64 `json:"debit"`
	Credit    int64 `json:"credit"`
}

// TrialBalanceRow is one account line of a trial balance.
type TrialBalanceRow struct {
	AccountID int64  `json:"account_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Debit     int64  `json:"debit"`
	Credit    int64  `json:"credit"`
	Balance   int64  `json:"balance"`
}

// TrialBalance lists per account totals for a period.
type TrialBalance struct {
	PeriodID    int64             `json:"period_id"`
	PeriodName  string            `json:"period_name"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  int64             `json:"total_debit"`
	TotalCredit int64             `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// Drift reports a projection row that disagrees with the journal.
type Drift struct {
	AccountID     int64 `json:"account_id"`
	FundID        int64 `json:"fund_id"`
	PeriodID      int64 `json:"period_id"`
	CachedDebit   int64 `json:"cached_debit"`
	CachedCredit  int64 `json:"cached_credit"`
	JournalDebit  int64 `json:"journal_debit"`
	JournalCredit int64 `json:"journal_credit"`
}

// Filter narrows ListEntries. Zero values are ignored.
type Filter struct {
	PeriodID   int64
	AccountID  int64
	SourceType shared.SourceType
	SourceIDs  []int64
	From       *time.Time
	To         *time.Time
	Limit      int
}

func (f Filter) matches(e JournalEntry) bool {
	if f.PeriodID != 0 && e.PeriodID != f.PeriodID {
		return false
	}
	if f.SourceType != "" && e.SourceType != f.SourceType {
		return false
	}
	if len(f.SourceIDs) > 0 {
		if e.SourceID == nil || !containsID(f.SourceIDs, *e.SourceID) {
			return false
		}
	}
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Date.After(*f.To) {
		return false
	}
	if f.AccountID != 0 {
		for _, l := range e.Lines {
			if l.AccountID == f.AccountID {
				return true
			}
		}
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
