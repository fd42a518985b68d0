package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// EntryPosted is the payload of ledger.entry.posted.
type EntryPosted struct {
	EntryID    int64             `json:"entry_id"`
	Sequence   int64             `json:"sequence"`
	PeriodID   int64             `json:"period_id"`
	Date       shared.Date       `json:"date"`
	SourceType shared.SourceType `json:"source_type"`
	SourceID   *int64            `json:"source_id,omitempty"`
	ReversalOf *int64            `json:"reversal_of,omitempty"`
	Debit      int64             `json:"debit"`
	Credit     int64             `json:"credit"`
	PostedBy   int64             `json:"posted_by"`
	PostedAt   time.Time         `json:"posted_at"`
}

// LedgerObserver publishes every committed journal entry.
type LedgerObserver struct {
	publisher *Publisher
}

// NewLedgerObserver returns a journals.Observer backed by publisher.
func NewLedgerObserver(publisher *Publisher) *LedgerObserver {
	return &LedgerObserver{publisher: publisher}
}

// EntryPosted implements journals.Observer. Publish failures are logged;
// the entry is already committed.
func (o *LedgerObserver) EntryPosted(ctx context.Context, entry journals.JournalEntry) {
	debit, credit := entry.Totals()
	err := o.publisher.Publish(ctx, RoutingEntryPosted, EntryPosted{
		EntryID:    entry.ID,
		Sequence:   entry.Sequence,
		PeriodID:   entry.PeriodID,
		Date:       entry.Date,
		SourceType: entry.SourceType,
		SourceID:   entry.SourceID,
		ReversalOf: entry.ReversalOf,
		Debit:      debit,
		Credit:     credit,
		PostedBy:   entry.PostedBy,
		PostedAt:   entry.PostedAt,
	})
	if err != nil {
		o.publisher.logger.Warn("publish ledger event", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
	}
}
