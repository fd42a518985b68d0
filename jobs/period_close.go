package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
)

const (
	// TaskPeriodClose reconciles and locks a fiscal period.
	TaskPeriodClose = "ledger:period_close"
)

// PeriodClosePayload selects the period to close. Zero means the earliest
// open period that has already ended.
type PeriodClosePayload struct {
	PeriodID int64 `json:"period_id"`
}

// PeriodCloser lists and locks fiscal periods.
type PeriodCloser interface {
	ListPeriods(ctx context.Context) ([]periods.Period, error)
	LockPeriod(ctx context.Context, id, actorID int64) (periods.Period, error)
}

// Reconciler reconciles every control account of a period.
type Reconciler interface {
	ReconcileAll(ctx context.Context, periodID, actorID int64) ([]reconciliation.GlReconciliation, error)
}

// CloseResult reports one close attempt.
type CloseResult struct {
	Period    periods.Period
	Unmatched int
	Locked    bool
}

// PeriodCloseJob reconciles the period and then locks it.
type PeriodCloseJob struct {
	Periods    PeriodCloser
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewPeriodCloseJob constructs the job handler.
func NewPeriodCloseJob(periods PeriodCloser, reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *PeriodCloseJob {
	return &PeriodCloseJob{
		Periods:    periods,
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewPeriodCloseTask creates an Asynq task closing periodID.
func NewPeriodCloseTask(periodID int64) (*asynq.Task, error) {
	body, err := json.Marshal(PeriodClosePayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodClose, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the period close job. Business refusals are not retried.
func (j *PeriodCloseJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Periods == nil || j.Reconciler == nil {
		return errors.New("period close: dependencies not configured")
	}
	var payload PeriodClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Close(ctx, payload.PeriodID)
	if err != nil && shared.IsDomain(err) && !errors.Is(err, shared.ErrStorage) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Close runs one close attempt. It returns a zero result when no period is
// due.
func (j *PeriodCloseJob) Close(ctx context.Context, periodID int64) (result CloseResult, err error) {
	tracker := j.Metrics.Track(TaskPeriodClose)
	defer func() {
		err = tracker.End(err)
	}()

	period, ok, err := j.resolve(ctx, periodID)
	if err != nil || !ok {
		if err == nil {
			j.log().Info("no period due for close")
		}
		return CloseResult{}, err
	}
	result.Period = period

	recs, err := j.Reconciler.ReconcileAll(ctx, period.ID, SystemActorID)
	if err != nil {
		j.log().Error("reconcile period", slog.String("period", period.Name), slog.Any("error", err))
		return result, err
	}
	for _, rec := range recs {
		if !rec.Settled() {
			result.Unmatched++
		}
	}
	j.Metrics.AddFindings(TaskPeriodClose, "unmatched", result.Unmatched)

	locked, err := j.Periods.LockPeriod(ctx, period.ID, SystemActorID)
	if err != nil {
		j.log().Warn("period lock refused", slog.String("period", period.Name), slog.Any("error", err))
		return result, err
	}
	result.Period, result.Locked = locked, true
	j.log().Info("period closed", slog.String("period", locked.Name), slog.Int("reconciliations", len(recs)))
	return result, nil
}

func (j *PeriodCloseJob) resolve(ctx context.Context, periodID int64) (periods.Period, bool, error) {
	all, err := j.Periods.ListPeriods(ctx)
	if err != nil {
		return periods.Period{}, false, err
	}
	if periodID != 0 {
		for _, p := range all {
			if p.ID == periodID {
				return p, true, nil
			}
		}
		return periods.Period{}, false, shared.NotFound("period", periodID)
	}
	today := shared.Day(j.clock())
	for _, p := range all {
		if !p.IsLocked() && p.EndDate.Before(today) {
			return p, true, nil
		}
	}
	return periods.Period{}, false, nil
}

func (j *PeriodCloseJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPeriodClose))
	}
	return slog.Default().With(slog.String("job", TaskPeriodClose))
}
