package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

func date(s string) time.Time {
	t, err := time.Parse(shared.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestService(t *testing.T) (*Service, *audit.Service) {
	t.Helper()
	store := memstore.New()
	auditSvc := audit.NewService(audit.NewMemoryRepository(store))
	return NewService(NewMemoryRepository(store), auditSvc), auditSvc
}

func seedCalendar(t *testing.T, svc *Service) (Period, Period, Period) {
	t.Helper()
	ctx := context.Background()
	spring, err := svc.CreatePeriod(ctx, CreateInput{Name: "Spring-2025", StartDate: date("2025-01-01"), EndDate: date("2025-04-30")})
	require.NoError(t, err)
	summer, err := svc.CreatePeriod(ctx, CreateInput{Name: "Summer-2025", StartDate: date("2025-05-01"), EndDate: date("2025-08-31")})
	require.NoError(t, err)
	fall, err := svc.CreatePeriod(ctx, CreateInput{Name: "Fall-2025", StartDate: date("2025-09-01"), EndDate: date("2025-12-31")})
	require.NoError(t, err)
	return spring, summer, fall
}

func TestCreatePeriodContiguity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedCalendar(t, svc)

	_, err := svc.CreatePeriod(ctx, CreateInput{Name: "Overlap", StartDate: date("2025-12-01"), EndDate: date("2026-01-31")})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePeriod(ctx, CreateInput{Name: "Gap", StartDate: date("2026-02-01"), EndDate: date("2026-04-30")})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePeriod(ctx, CreateInput{Name: "Fall-2025", StartDate: date("2026-01-01"), EndDate: date("2026-04-30")})
	assert.ErrorIs(t, err, shared.ErrValidation)

	prior, err := svc.CreatePeriod(ctx, CreateInput{Name: "Fall-2024", StartDate: date("2024-09-01"), EndDate: date("2024-12-31")})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, prior.Status)

	_, err = svc.CreatePeriod(ctx, CreateInput{Name: "Backwards", StartDate: date("2026-02-01"), EndDate: date("2026-01-01")})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRequirePostable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	spring, _, _ := seedCalendar(t, svc)

	p, err := svc.RequirePostable(ctx, date("2025-02-15"))
	require.NoError(t, err)
	assert.Equal(t, spring.ID, p.ID)

	_, err = svc.RequirePostable(ctx, date("2030-01-01"))
	var noPeriod *shared.NoPeriodDefinedError
	require.True(t, errors.As(err, &noPeriod))

	_, err = svc.LockPeriod(ctx, spring.ID, 1)
	require.NoError(t, err)

	_, err = svc.RequirePostable(ctx, date("2025-02-15"))
	var locked *shared.PeriodLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "Spring-2025", locked.PeriodName)

	resolved, err := svc.ResolvePeriod(ctx, date("2025-02-15"))
	require.NoError(t, err)
	assert.True(t, resolved.IsLocked())
}

func TestLockPeriodInDateOrder(t *testing.T) {
	svc, auditSvc := newTestService(t)
	ctx := context.Background()
	spring, summer, _ := seedCalendar(t, svc)

	_, err := svc.LockPeriod(ctx, summer.ID, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	locked, err := svc.LockPeriod(ctx, spring.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, locked.LockedBy)
	assert.Equal(t, int64(4), *locked.LockedBy)

	_, err = svc.LockPeriod(ctx, spring.ID, 4)
	assert.ErrorIs(t, err, shared.ErrConflict)

	logs, err := auditSvc.Timeline(ctx, audit.TimelineFilters{Action: "period.lock"})
	require.NoError(t, err)
	require.Len(t, logs.Rows, 1)
	assert.Equal(t, audit.EntityID(spring.ID), logs.Rows[0].EntityID)
}

func TestLockGuardVetoRollsBack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	spring, _, _ := seedCalendar(t, svc)
	svc.AddLockGuard(LockGuardFunc(func(ctx context.Context, p Period) error {
		return &shared.OpenPostingsPendingError{PeriodName: p.Name, Pending: 2}
	}))

	_, err := svc.LockPeriod(ctx, spring.ID, 1)
	assert.ErrorIs(t, err, shared.ErrOpenPostingsPending)

	got, err := svc.GetPeriod(ctx, spring.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestReopenCascades(t *testing.T) {
	svc, auditSvc := newTestService(t)
	ctx := context.Background()
	spring, summer, fall := seedCalendar(t, svc)
	for _, id := range []int64{spring.ID, summer.ID, fall.ID} {
		_, err := svc.LockPeriod(ctx, id, 1)
		require.NoError(t, err)
	}

	_, err := svc.ReopenPeriod(ctx, summer.ID, 2, "late invoice", false)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.ReopenPeriod(ctx, summer.ID, 2, " ", true)
	assert.ErrorIs(t, err, shared.ErrValidation)

	reopened, err := svc.ReopenPeriod(ctx, summer.ID, 2, "late invoice", true)
	require.NoError(t, err)
	require.Len(t, reopened, 2)
	assert.Equal(t, summer.ID, reopened[0].ID)
	assert.Equal(t, fall.ID, reopened[1].ID)

	all, err := svc.ListPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, all[0].Status)
	assert.Equal(t, StatusOpen, all[1].Status)
	assert.Equal(t, StatusOpen, all[2].Status)

	logs, err := auditSvc.Timeline(ctx, audit.TimelineFilters{Action: "period.reopen"})
	require.NoError(t, err)
	require.Len(t, logs.Rows, 2)
	for _, row := range logs.Rows {
		assert.Equal(t, "late invoice", row.Meta["reason"])
	}

	next, err := svc.NextOpenAfter(ctx, spring.EndDate)
	require.NoError(t, err)
	assert.Equal(t, summer.ID, next.ID)
}
