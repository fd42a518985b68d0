package statements

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
)

// Sources lists the AR documents belonging to a student.
type Sources interface {
	StudentSources(ctx context.Context, studentID int64) (billIDs, paymentIDs []int64, err error)
}

// Entries reads posted journal entries by source document.
type Entries interface {
	EntriesBySource(ctx context.Context, sourceType shared.SourceType, ids []int64) ([]journals.JournalEntry, error)
}

// ControlAccounts lists control accounts by owner.
type ControlAccounts interface {
	ListControlAccounts(ctx context.Context, owner string) ([]accounts.Account, error)
}

// Service builds student statements from the journal.
type Service struct {
	sources  Sources
	entries  Entries
	accounts ControlAccounts
	cache    *cache.Versioned
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the statement service. A nil cache renders every
// request.
func NewService(sources Sources, entries Entries, accts ControlAccounts, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sources: sources, entries: entries, accounts: accts, cache: c, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type sourced struct {
	entry journals.JournalEntry
	kind  EntryType
}

// BuildStudentStatement replays the AR control lines of the student's bills
// and payments dated on or before asOf, ordered by (date, sequence). A nil
// asOf means today.
func (s *Service) BuildStudentStatement(ctx context.Context, studentID int64, asOf *time.Time) (Statement, error) {
	if studentID <= 0 {
		return Statement{}, shared.Invalid("student_id", "must be positive")
	}
	cutoff := shared.Day(s.now())
	if asOf != nil {
		cutoff = shared.Day(*asOf)
	}
	controls, err := s.arControls(ctx)
	if err != nil {
		return Statement{}, err
	}
	billIDs, paymentIDs, err := s.sources.StudentSources(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	var docs []sourced
	for _, src := range []struct {
		typ  shared.SourceType
		ids  []int64
		kind EntryType
	}{
		{shared.SourceARBill, billIDs, EntryBill},
		{shared.SourceARPayment, paymentIDs, EntryPayment},
	} {
		if len(src.ids) == 0 {
			continue
		}
		found, err := s.entries.EntriesBySource(ctx, src.typ, src.ids)
		if err != nil {
			return Statement{}, err
		}
		for _, e := range found {
			if e.Date.After(cutoff) {
				continue
			}
			docs = append(docs, sourced{entry: e, kind: src.kind})
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i].entry, docs[j].entry
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		return a.Sequence < b.Sequence
	})

	stmt := Statement{StudentID: studentID, AsOf: shared.NewDate(cutoff), Entries: []Entry{}}
	var balance int64
	for _, doc := range docs {
		var net int64
		for _, line := range doc.entry.Lines {
			if controls[line.AccountID] {
				net += line.Debit - line.Credit
			}
		}
		if net == 0 {
			continue
		}
		balance += net
		amount := net
		if amount < 0 {
			amount = -amount
		}
		if net > 0 {
			stmt.Summary.TotalBilled += amount
		} else {
			stmt.Summary.TotalPaid += amount
		}
		stmt.Entries = append(stmt.Entries, Entry{
			Date:        doc.entry.Date,
			Description: describe(doc),
			Type:        doc.kind,
			Amount:      amount,
			Balance:     balance,
		})
	}
	stmt.Summary.OutstandingBalance = balance
	return stmt, nil
}

func describe(doc sourced) string {
	if doc.entry.Memo != "" {
		return doc.entry.Memo
	}
	id := int64(0)
	if doc.entry.SourceID != nil {
		id = *doc.entry.SourceID
	}
	if doc.kind == EntryBill {
		return fmt.Sprintf("Bill #%d", id)
	}
	return fmt.Sprintf("Payment #%d", id)
}

func (s *Service) arControls(ctx context.Context) (map[int64]bool, error) {
	list, err := s.accounts.ListControlAccounts(ctx, shared.OwnerAR)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(list))
	for _, a := range list {
		out[a.ID] = true
	}
	return out, nil
}

// StudentStatementJSON returns the encoded statement, served from the
// versioned cache when one is configured.
func (s *Service) StudentStatementJSON(ctx context.Context, studentID int64, asOf *time.Time) ([]byte, error) {
	cutoff := shared.Day(s.now())
	if asOf != nil {
		cutoff = shared.Day(*asOf)
	}
	key := fmt.Sprintf("student:%d:%s", studentID, cutoff.Format(shared.DateLayout))
	load := func(ctx context.Context) ([]byte, error) {
		stmt, err := s.BuildStudentStatement(ctx, studentID, &cutoff)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stmt)
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Fetch(ctx, key, load)
}

// EntryPosted invalidates cached statements after any posting.
func (s *Service) EntryPosted(ctx context.Context, entry journals.JournalEntry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("statement cache invalidation failed", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
	}
}
