package periods

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// AuditPort records period transitions.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// LockGuard vetoes a lock. Guards run inside the lock transaction.
type LockGuard interface {
	CheckLock(ctx context.Context, period Period) error
}

// LockGuardFunc adapts a function to LockGuard.
type LockGuardFunc func(ctx context.Context, period Period) error

// CheckLock implements LockGuard.
func (f LockGuardFunc) CheckLock(ctx context.Context, period Period) error { return f(ctx, period) }

// Service manages the fiscal calendar and gates postings.
type Service struct {
	repo   Repository
	audit  AuditPort
	guards []LockGuard
	now    func() time.Time
}

// NewService constructs the period manager.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AddLockGuard registers a policy checked by LockPeriod.
func (s *Service) AddLockGuard(guard LockGuard) {
	if guard != nil {
		s.guards = append(s.guards, guard)
	}
}

// CreatePeriod appends a period adjacent to the existing calendar.
func (s *Service) CreatePeriod(ctx context.Context, in CreateInput) (Period, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Period{}, shared.Invalid("name", "is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return Period{}, shared.Invalid("dates", "start_date and end_date are required")
	}
	start, end := shared.Day(in.StartDate), shared.Day(in.EndDate)
	if end.Before(start) {
		return Period{}, shared.Invalid("end_date", "must not precede start_date")
	}
	var created Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SerializeCreate(ctx); err != nil {
			return err
		}
		existing, err := tx.List(ctx)
		if err != nil {
			return err
		}
		if err := checkAdjacent(existing, start, end); err != nil {
			return err
		}
		now := s.now()
		p, err := tx.Insert(ctx, Period{Name: in.Name, StartDate: start, EndDate: end, Status: StatusOpen, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		created = p
		return s.record(ctx, in.ActorID, "period.create", p.ID, nil, p, nil)
	})
	return created, err
}

// checkAdjacent enforces a gap-free, non-overlapping calendar: a new period
// starts the day after the last one ends or ends the day before the first
// one starts. existing is ordered by start date.
func checkAdjacent(existing []Period, start, end time.Time) error {
	for _, p := range existing {
		if !end.Before(p.StartDate) && !start.After(p.EndDate) {
			return shared.Invalid("dates", fmt.Sprintf("overlaps period %s", p.Name))
		}
	}
	if len(existing) == 0 {
		return nil
	}
	first, last := existing[0], existing[len(existing)-1]
	if start.Equal(last.EndDate.AddDate(0, 0, 1)) || end.Equal(first.StartDate.AddDate(0, 0, -1)) {
		return nil
	}
	return shared.Invalid("dates", fmt.Sprintf("must be contiguous with %s or %s", first.Name, last.Name))
}

// ResolvePeriod returns the period covering date.
func (s *Service) ResolvePeriod(ctx context.Context, date time.Time) (Period, error) {
	day := shared.Day(date)
	p, err := s.repo.FindByDate(ctx, day, LockNone)
	if shared.IsNotFound(err) {
		return Period{}, &shared.NoPeriodDefinedError{Date: day}
	}
	return p, err
}

// RequirePostable returns the open period covering date. Call it inside the
// posting transaction: the period row stays share locked until commit so a
// concurrent LockPeriod waits for the posting.
func (s *Service) RequirePostable(ctx context.Context, date time.Time) (Period, error) {
	day := shared.Day(date)
	p, err := s.repo.FindByDate(ctx, day, LockShare)
	if err != nil {
		if shared.IsNotFound(err) {
			return Period{}, &shared.NoPeriodDefinedError{Date: day}
		}
		return Period{}, err
	}
	if p.IsLocked() {
		return Period{}, &shared.PeriodLockedError{PeriodName: p.Name, Date: day}
	}
	return p, nil
}

// NextOpenAfter returns the earliest open period starting after date.
func (s *Service) NextOpenAfter(ctx context.Context, date time.Time) (Period, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return Period{}, err
	}
	day := shared.Day(date)
	for _, p := range all {
		if p.StartDate.After(day) && !p.IsLocked() {
			return p, nil
		}
	}
	return Period{}, &shared.NoPeriodDefinedError{Date: day.AddDate(0, 0, 1)}
}

// LockPeriod transitions an open period to locked. Periods lock in date
// order and every registered guard must pass.
func (s *Service) LockPeriod(ctx context.Context, id, actorID int64) (Period, error) {
	var locked Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Get(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if current.IsLocked() {
			return &shared.ConflictError{Reason: "period " + current.Name + " is already locked"}
		}
		all, err := tx.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			if p.StartDate.Before(current.StartDate) && !p.IsLocked() {
				return shared.Invalid("period", fmt.Sprintf("earlier period %s must be locked first", p.Name))
			}
		}
		for _, guard := range s.guards {
			if err := guard.CheckLock(ctx, current); err != nil {
				return err
			}
		}
		now := s.now()
		locked = current
		locked.Status = StatusLocked
		locked.LockedBy = &actorID
		locked.LockedAt = &now
		locked.UpdatedAt = now
		if err := tx.Update(ctx, locked); err != nil {
			return err
		}
		return s.record(ctx, actorID, "period.lock", current.ID, current, locked, nil)
	})
	if err != nil {
		return Period{}, err
	}
	return locked, nil
}

// ReopenPeriod unlocks a period and every later locked period. It requires
// elevated privilege and a reason, and is audited per period.
func (s *Service) ReopenPeriod(ctx context.Context, id, actorID int64, reason string, elevated bool) ([]Period, error) {
	if !elevated {
		return nil, &shared.ForbiddenError{Action: "period.reopen"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, shared.Invalid("reason", "is required")
	}
	var reopened []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.Get(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if !target.IsLocked() {
			return &shared.ConflictError{Reason: "period " + target.Name + " is not locked"}
		}
		all, err := tx.List(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		for i := len(all) - 1; i >= 0; i-- {
			p := all[i]
			if p.StartDate.Before(target.StartDate) || !p.IsLocked() {
				continue
			}
			if p.ID != target.ID {
				if p, err = tx.Get(ctx, p.ID, LockUpdate); err != nil {
					return err
				}
			}
			open := p
			open.Status = StatusOpen
			open.LockedBy = nil
			open.LockedAt = nil
			open.UpdatedAt = now
			if err := tx.Update(ctx, open); err != nil {
				return err
			}
			meta := map[string]any{"reason": reason}
			if p.ID != target.ID {
				meta["cascade_from"] = target.ID
			}
			if err := s.record(ctx, actorID, "period.reopen", p.ID, p, open, meta); err != nil {
				return err
			}
			reopened = append([]Period{open}, reopened...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened, nil
}

// GetPeriod returns the period with id.
func (s *Service) GetPeriod(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id, LockNone)
}

// ListPeriods returns the calendar ordered by start date.
func (s *Service) ListPeriods(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, old, new any, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_periods",
		EntityID: audit.EntityID(id),
		Old:      audit.Snapshot(old),
		New:      audit.Snapshot(new),
		Meta:     meta,
		At:       s.now(),
	})
}
