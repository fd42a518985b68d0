package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PostingLineInput describes a journal line for a posting request. The
// account is given by id or, when zero, by code.
type PostingLineInput struct {
	AccountID   int64
	AccountCode string
	FundID      *int64
	Debit       int64
	Credit      int64
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date           time.Time
	Memo           string
	SourceType     shared.SourceType
	SourceID       *int64
	IdempotencyKey string
	PostedBy       int64
	Lines          []PostingLineInput

	reversalOf *int64
	// engine marks postings built by the ledger itself, which may use the
	// reserved key namespace.
	engine bool
}

// reservedKeyPrefix namespaces idempotency keys generated by the ledger.
// Callers cannot submit keys in it.
const reservedKeyPrefix = "ledger:"

// Validate checks the structural rules and the balance of the entry. It
// touches no state.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return shared.Invalid("date", "is required")
	}
	if !in.SourceType.Valid() {
		return shared.Invalid("source_type", fmt.Sprintf("unknown source type %q", in.SourceType))
	}
	if len(in.Lines) < 2 {
		return shared.Invalid("lines", "at least two lines are required")
	}
	var debit, credit int64
	for idx, line := range in.Lines {
		if line.AccountID == 0 && strings.TrimSpace(line.AccountCode) == "" {
			return shared.Invalid(fmt.Sprintf("lines[%d].account", idx), "is required")
		}
		if line.Debit < 0 || line.Credit < 0 {
			return shared.Invalid(fmt.Sprintf("lines[%d]", idx), "amounts must be non-negative")
		}
		if (line.Debit == 0) == (line.Credit == 0) {
			return shared.Invalid(fmt.Sprintf("lines[%d]", idx), "exactly one of debit or credit must be non-zero")
		}
		if line.Debit > shared.MaxMinorUnits-debit || line.Credit > shared.MaxMinorUnits-credit {
			return shared.Invalid("lines", "totals exceed the supported range")
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return &shared.UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	ActorID int64
	Memo    string
	// Date overrides the reversal date. By default the original date is
	// used, or the start of the next open period when that one is locked.
	Date           *time.Time
	IdempotencyKey string
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			FundID:      line.FundID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func defaultReversalMemo(memo string, sequence int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", sequence)
}
