package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// TaskGLIntegrity verifies trial balances and the balance projection.
	TaskGLIntegrity = "ledger:gl_integrity"

	integrityConcurrency = 4
)

// IntegrityLedger exposes the checks the job runs.
type IntegrityLedger interface {
	TrialBalance(ctx context.Context, periodID int64) (journals.TrialBalance, error)
	VerifyBalances(ctx context.Context) ([]journals.Drift, error)
}

// PeriodLister lists fiscal periods.
type PeriodLister interface {
	ListPeriods(ctx context.Context) ([]periods.Period, error)
}

// IntegrityReport summarises one integrity run.
type IntegrityReport struct {
	Periods    int              `json:"periods"`
	Unbalanced []string         `json:"unbalanced"`
	Drift      []journals.Drift `json:"drift"`
}

// OK reports whether the run found nothing.
func (r IntegrityReport) OK() bool {
	return len(r.Unbalanced) == 0 && len(r.Drift) == 0
}

// GLIntegrityJob checks that every period's trial balance nets to zero and
// that cached balances match the journal.
type GLIntegrityJob struct {
	Ledger  IntegrityLedger
	Periods PeriodLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(ledger IntegrityLedger, periods PeriodLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Ledger: ledger, Periods: periods, Logger: logger, Metrics: metrics}
}

// NewGLIntegrityTask creates the Asynq task.
func NewGLIntegrityTask() (*asynq.Task, error) {
	body, err := json.Marshal(struct{}{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the integrity check. Findings are logged and counted; only
// failures to run the check are errors.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Ledger == nil || j.Periods == nil {
		return errors.New("gl integrity: dependencies not configured")
	}
	_, err := j.Run(ctx)
	return err
}

// Run checks all periods concurrently with the projection verification.
func (j *GLIntegrityJob) Run(ctx context.Context) (report IntegrityReport, err error) {
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	all, err := j.Periods.ListPeriods(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Periods = len(all)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(integrityConcurrency)
	g.Go(func() error {
		drift, err := j.Ledger.VerifyBalances(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		report.Drift = drift
		mu.Unlock()
		return nil
	})
	for _, p := range all {
		g.Go(func() error {
			tb, err := j.Ledger.TrialBalance(gctx, p.ID)
			if err != nil {
				return err
			}
			if !tb.Balanced {
				mu.Lock()
				report.Unbalanced = append(report.Unbalanced, p.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.log().Error("gl integrity check", slog.Any("error", err))
		return IntegrityReport{}, err
	}

	j.Metrics.AddFindings(TaskGLIntegrity, "unbalanced", len(report.Unbalanced))
	j.Metrics.AddFindings(TaskGLIntegrity, "drift", len(report.Drift))
	if report.OK() {
		j.log().Info("gl integrity check passed", slog.Int("periods", report.Periods))
	} else {
		j.log().Error("gl integrity findings",
			slog.Any("unbalanced_periods", report.Unbalanced),
			slog.Int("drifted_balances", len(report.Drift)))
	}
	return report, nil
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}
