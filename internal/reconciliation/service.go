package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// AccountLookup reads the chart of accounts.
type AccountLookup interface {
	GetAccountByID(ctx context.Context, id int64) (accounts.Account, error)
	ListControlAccounts(ctx context.Context, owner string) ([]accounts.Account, error)
	ResolveForPosting(ctx context.Context, id int64, code string) (accounts.Account, error)
}

// PeriodLookup reads fiscal periods.
type PeriodLookup interface {
	GetPeriod(ctx context.Context, id int64) (periods.Period, error)
}

// Ledger exposes GL activity and adjustment posting.
type Ledger interface {
	AccountActivity(ctx context.Context, accountID, periodID int64) (journals.Activity, error)
	PostAdjustmentInTx(ctx context.Context, reconciliationID int64, input journals.PostingInput) (journals.JournalEntry, error)
	Notify(ctx context.Context, entry journals.JournalEntry)
}

// Subledger totals open documents booked to a control account.
type Subledger interface {
	SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error)
}

// Notifier delivers alerts for unmatched reconciliations.
type Notifier interface {
	ReconciliationUnmatched(ctx context.Context, alert Alert) error
}

// AuditPort records reconciliation runs and resolutions.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// Deps groups the collaborators of the service. Subledgers is keyed by
// control owner (ar, ap).
type Deps struct {
	Accounts   AccountLookup
	Periods    PeriodLookup
	Ledger     Ledger
	Subledgers map[string]Subledger
	Notifier   Notifier
	Audit      AuditPort
	Logger     *slog.Logger
}

// Service compares subledger totals with their GL control accounts.
type Service struct {
	repo Repository
	deps Deps
	now  func() time.Time
}

// NewService builds the reconciliation service.
func NewService(repo Repository, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{repo: repo, deps: deps, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// owners returns the registered control owners in a stable order.
func (s *Service) owners() []string {
	out := make([]string, 0, len(s.deps.Subledgers))
	for owner := range s.deps.Subledgers {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

type totals struct {
	account   accounts.Account
	subledger int64
	gl        int64
}

// measure computes both sides for one control account in a period.
func (s *Service) measure(ctx context.Context, period periods.Period, account accounts.Account) (totals, error) {
	if !account.IsControl {
		return totals{}, shared.Invalid("control_account_id", fmt.Sprintf("account %s is not a control account", account.Code))
	}
	sub, ok := s.deps.Subledgers[account.ControlOwner]
	if !ok {
		return totals{}, shared.Invalid("control_account_id", fmt.Sprintf("no subledger registered for owner %q", account.ControlOwner))
	}
	subTotal, err := sub.SubledgerTotal(ctx, account.ID, period.StartDate, period.EndDate)
	if err != nil {
		return totals{}, err
	}
	activity, err := s.deps.Ledger.AccountActivity(ctx, account.ID, period.ID)
	if err != nil {
		return totals{}, err
	}
	return totals{account: account, subledger: subTotal, gl: account.Signed(activity.Debit, activity.Credit)}, nil
}

// ReconcilePeriod records the comparison for one control account. A run
// whose totals equal the latest record returns that record unchanged.
func (s *Service) ReconcilePeriod(ctx context.Context, periodID, controlAccountID, actorID int64) (GlReconciliation, error) {
	period, err := s.deps.Periods.GetPeriod(ctx, periodID)
	if err != nil {
		return GlReconciliation{}, err
	}
	account, err := s.deps.Accounts.GetAccountByID(ctx, controlAccountID)
	if err != nil {
		return GlReconciliation{}, err
	}
	rec, created, err := s.reconcile(ctx, period, account, actorID)
	if err != nil {
		return GlReconciliation{}, err
	}
	if created && rec.Status == StatusUnmatched {
		s.alert(ctx, period, account, rec)
	}
	return rec, nil
}

func (s *Service) reconcile(ctx context.Context, period periods.Period, account accounts.Account, actorID int64) (GlReconciliation, bool, error) {
	var (
		rec     GlReconciliation
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := s.measure(ctx, period, account)
		if err != nil {
			return err
		}
		latest, err := tx.Latest(ctx, period.ID, account.ID)
		switch {
		case err == nil:
			if latest.SubledgerTotal == t.subledger && latest.GLBalance == t.gl {
				rec = latest
				return nil
			}
		case !shared.IsNotFound(err):
			return err
		}
		status := StatusMatched
		if t.subledger != t.gl {
			status = StatusUnmatched
		}
		inserted, err := tx.Insert(ctx, GlReconciliation{
			PeriodID:         period.ID,
			ControlAccountID: account.ID,
			SubledgerTotal:   t.subledger,
			GLBalance:        t.gl,
			Difference:       t.subledger - t.gl,
			Status:           status,
			CreatedBy:        actorID,
			CreatedAt:        s.now(),
		})
		if err != nil {
			return err
		}
		rec, created = inserted, true
		return s.record(ctx, actorID, "reconciliation.run", inserted.ID, nil, inserted, map[string]any{
			"period":  period.Name,
			"account": account.Code,
		})
	})
	if err != nil {
		return GlReconciliation{}, false, err
	}
	return rec, created, nil
}

// ReconcileAll reconciles every control account of every registered
// subledger for the period.
func (s *Service) ReconcileAll(ctx context.Context, periodID, actorID int64) ([]GlReconciliation, error) {
	period, err := s.deps.Periods.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	var out []GlReconciliation
	for _, owner := range s.owners() {
		controls, err := s.deps.Accounts.ListControlAccounts(ctx, owner)
		if err != nil {
			return nil, err
		}
		for _, account := range controls {
			if !account.IsActive {
				t, err := s.measure(ctx, period, account)
				if err != nil {
					return nil, fmt.Errorf("reconcile %s: %w", account.Code, err)
				}
				if t.subledger == 0 && t.gl == 0 {
					continue
				}
			}
			rec, created, err := s.reconcile(ctx, period, account, actorID)
			if err != nil {
				return nil, fmt.Errorf("reconcile %s: %w", account.Code, err)
			}
			if created && rec.Status == StatusUnmatched {
				s.alert(ctx, period, account, rec)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Service) alert(ctx context.Context, period periods.Period, account accounts.Account, rec GlReconciliation) {
	if s.deps.Notifier == nil {
		return
	}
	err := s.deps.Notifier.ReconciliationUnmatched(ctx, Alert{
		ReconciliationID: rec.ID,
		PeriodID:         period.ID,
		PeriodName:       period.Name,
		AccountCode:      account.Code,
		SubledgerTotal:   rec.SubledgerTotal,
		GLBalance:        rec.GLBalance,
		Difference:       rec.Difference,
	})
	if err != nil {
		s.deps.Logger.Warn("reconciliation alert failed",
			slog.Int64("reconciliation_id", rec.ID),
			slog.String("account", account.Code),
			slog.Any("error", err))
	}
}

// Resolve closes an unmatched reconciliation, optionally posting an
// adjustment that brings the GL onto the subledger total.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (GlReconciliation, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Notes == "" {
		return GlReconciliation{}, shared.Invalid("notes", "are required")
	}
	var (
		resolved GlReconciliation
		posted   journals.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.Get(ctx, in.ID, true)
		if err != nil {
			return err
		}
		if rec.Status != StatusUnmatched {
			return &shared.ConflictError{Reason: fmt.Sprintf("reconciliation %d is %s", rec.ID, rec.Status)}
		}
		old := rec
		if in.Adjust {
			entry, err := s.adjust(ctx, rec, in)
			if err != nil {
				return err
			}
			posted = entry
			rec.AdjustmentEntryID = &entry.ID
		}
		now := s.now()
		actor := in.ActorID
		rec.Status = StatusResolved
		rec.ResolvedBy = &actor
		rec.ResolvedAt = &now
		rec.Notes = in.Notes
		if err := tx.Resolve(ctx, rec); err != nil {
			return err
		}
		resolved = rec
		return s.record(ctx, in.ActorID, "reconciliation.resolve", rec.ID, old, rec, nil)
	})
	if err != nil {
		return GlReconciliation{}, err
	}
	if posted.ID != 0 && !posted.Replayed {
		s.deps.Ledger.Notify(ctx, posted)
	}
	return resolved, nil
}

func (s *Service) adjust(ctx context.Context, rec GlReconciliation, in ResolveInput) (journals.JournalEntry, error) {
	if rec.Difference == 0 {
		return journals.JournalEntry{}, shared.Invalid("adjust", "nothing to adjust")
	}
	if strings.TrimSpace(in.OffsetAccountCode) == "" {
		return journals.JournalEntry{}, shared.Invalid("offset_account_code", "is required for an adjustment")
	}
	control, err := s.deps.Accounts.GetAccountByID(ctx, rec.ControlAccountID)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	offset, err := s.deps.Accounts.ResolveForPosting(ctx, 0, in.OffsetAccountCode)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	if offset.IsControl {
		return journals.JournalEntry{}, shared.Invalid("offset_account_code", "must not be a control account")
	}
	period, err := s.deps.Periods.GetPeriod(ctx, rec.PeriodID)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	date := period.EndDate
	if in.Date != nil {
		if !period.Contains(shared.Day(*in.Date)) {
			return journals.JournalEntry{}, shared.Invalid("date", "must fall inside the reconciled period")
		}
		date = shared.Day(*in.Date)
	}
	amount := rec.Difference
	if amount < 0 {
		amount = -amount
	}
	controlLine := journals.PostingLineInput{AccountID: control.ID, Description: "reconciliation adjustment"}
	offsetLine := journals.PostingLineInput{AccountID: offset.ID, Description: "reconciliation adjustment"}
	// A positive difference raises the signed control balance.
	if (rec.Difference > 0) == (control.NormalBalance == accounts.NormalDebit) {
		controlLine.Debit, offsetLine.Credit = amount, amount
	} else {
		controlLine.Credit, offsetLine.Debit = amount, amount
	}
	return s.deps.Ledger.PostAdjustmentInTx(ctx, rec.ID, journals.PostingInput{
		Date:     date,
		Memo:     fmt.Sprintf("Reconciliation adjustment %s %s", control.Code, period.Name),
		PostedBy: in.ActorID,
		Lines:    []journals.PostingLineInput{controlLine, offsetLine},
	})
}

// AuthorizesAdjustment reports whether an adjustment may touch the control
// account: the reconciliation must exist, be unmatched and cover that
// account.
func (s *Service) AuthorizesAdjustment(ctx context.Context, reconciliationID, controlAccountID int64) (bool, error) {
	rec, err := s.repo.Get(ctx, reconciliationID, false)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return rec.Status == StatusUnmatched && rec.ControlAccountID == controlAccountID, nil
}

// EnsureReconciled fails with ReconciliationPendingError when a control
// account's GL balance differs from its subledger and no resolved record
// accepts the current totals.
func (s *Service) EnsureReconciled(ctx context.Context, period periods.Period) error {
	var pending []string
	for _, owner := range s.owners() {
		controls, err := s.deps.Accounts.ListControlAccounts(ctx, owner)
		if err != nil {
			return err
		}
		for _, account := range controls {
			t, err := s.measure(ctx, period, account)
			if err != nil {
				return err
			}
			if t.subledger == t.gl {
				continue
			}
			latest, err := s.repo.Latest(ctx, period.ID, account.ID)
			if err != nil && !shared.IsNotFound(err) {
				return err
			}
			if err == nil && latest.Status == StatusResolved &&
				latest.SubledgerTotal == t.subledger && latest.GLBalance == t.gl {
				continue
			}
			pending = append(pending, account.Code)
		}
	}
	if len(pending) > 0 {
		return &shared.ReconciliationPendingError{PeriodName: period.Name, AccountCodes: pending}
	}
	return nil
}

// CheckLock lets the service act as a period lock guard.
func (s *Service) CheckLock(ctx context.Context, period periods.Period) error {
	return s.EnsureReconciled(ctx, period)
}

// Get returns one reconciliation.
func (s *Service) Get(ctx context.Context, id int64) (GlReconciliation, error) {
	return s.repo.Get(ctx, id, false)
}

// List returns the reconciliations of a period, or all when periodID is 0.
func (s *Service) List(ctx context.Context, periodID int64) ([]GlReconciliation, error) {
	return s.repo.List(ctx, periodID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, old, new any, meta map[string]any) error {
	if s.deps.Audit == nil {
		return nil
	}
	return s.deps.Audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   "gl_reconciliations",
		EntityID: audit.EntityID(id),
		Old:      audit.Snapshot(old),
		New:      audit.Snapshot(new),
		Meta:     meta,
		At:       s.now(),
	})
}
