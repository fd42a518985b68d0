package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
)

const (
	// TaskReconciliationAlert delivers an unmatched reconciliation alert.
	TaskReconciliationAlert = "ledger:reconciliation_alert"
)

var alertNamespace = uuid.MustParse("0d6f3a52-2f8e-4b47-9d39-6f0b1c1e7a10")

// AlertTaskID derives a stable task id so a reconciliation alerts once.
func AlertTaskID(reconciliationID int64) string {
	return uuid.NewSHA1(alertNamespace, []byte(fmt.Sprintf("reconciliation:%d", reconciliationID))).String()
}

// NewReconciliationAlertTask creates the Asynq task for alert.
func NewReconciliationAlertTask(alert reconciliation.Alert) (*asynq.Task, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconciliationAlert, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(AlertTaskID(alert.ReconciliationID)),
		asynq.MaxRetry(5)), nil
}

// ReconciliationAlertJob fans an alert out to the configured sinks.
type ReconciliationAlertJob struct {
	Sinks   []reconciliation.Notifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconciliationAlertJob constructs the job handler.
func NewReconciliationAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics, sinks ...reconciliation.Notifier) *ReconciliationAlertJob {
	return &ReconciliationAlertJob{Sinks: sinks, Logger: logger, Metrics: metrics}
}

// Handle delivers the alert. Any sink failure retries the task.
func (j *ReconciliationAlertJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || len(j.Sinks) == 0 {
		return errors.New("reconciliation alert: no sinks configured")
	}
	var alert reconciliation.Alert
	if err := json.Unmarshal(task.Payload(), &alert); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskReconciliationAlert)
	defer func() {
		err = tracker.End(err)
	}()
	var errs []error
	for _, sink := range j.Sinks {
		if err := sink.ReconciliationUnmatched(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		j.log().Warn("alert delivery failed", slog.Int64("reconciliation_id", alert.ReconciliationID), slog.Any("error", errors.Join(errs...)))
		return errors.Join(errs...)
	}
	return nil
}

func (j *ReconciliationAlertJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconciliationAlert))
	}
	return slog.Default().With(slog.String("job", TaskReconciliationAlert))
}

// MailAlerts turns alerts into mail:send tasks for a fixed recipient.
type MailAlerts struct {
	Client *Client
	To     string
}

// ReconciliationUnmatched implements reconciliation.Notifier.
func (m MailAlerts) ReconciliationUnmatched(ctx context.Context, alert reconciliation.Alert) error {
	_, err := m.Client.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      m.To,
		Subject: fmt.Sprintf("Reconciliation unmatched: %s %s", alert.AccountCode, alert.PeriodName),
		Body: fmt.Sprintf("Control account %s in %s: subledger %d, GL %d, difference %d (reconciliation %d).",
			alert.AccountCode, alert.PeriodName, alert.SubledgerTotal, alert.GLBalance, alert.Difference, alert.ReconciliationID),
	})
	return err
}
