// Package notify delivers reconciliation alerts through the configured
// driver: the log, the asynq queue or the AMQP exchange.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
)

// Drivers accepted by New.
const (
	DriverLog   = "log"
	DriverAsynq = "asynq"
	DriverAMQP  = "amqp"
)

// Log writes alerts to the structured log.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a log notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// ReconciliationUnmatched implements reconciliation.Notifier.
func (l *Log) ReconciliationUnmatched(ctx context.Context, alert reconciliation.Alert) error {
	l.logger.WarnContext(ctx, "reconciliation unmatched",
		slog.Int64("reconciliation_id", alert.ReconciliationID),
		slog.String("period", alert.PeriodName),
		slog.String("account", alert.AccountCode),
		slog.Int64("subledger_total", alert.SubledgerTotal),
		slog.Int64("gl_balance", alert.GLBalance),
		slog.Int64("difference", alert.Difference))
	return nil
}

// Enqueuer schedules alert delivery on the job queue.
type Enqueuer interface {
	EnqueueReconciliationAlert(ctx context.Context, alert reconciliation.Alert) error
}

// Queue hands alerts to the background worker.
type Queue struct {
	enqueuer Enqueuer
}

// NewQueue returns a queue notifier.
func NewQueue(enqueuer Enqueuer) *Queue {
	return &Queue{enqueuer: enqueuer}
}

// ReconciliationUnmatched implements reconciliation.Notifier.
func (q *Queue) ReconciliationUnmatched(ctx context.Context, alert reconciliation.Alert) error {
	return q.enqueuer.EnqueueReconciliationAlert(ctx, alert)
}

// Publisher sends an event to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Broker publishes alerts on the ledger exchange.
type Broker struct {
	publisher Publisher
}

// NewBroker returns an AMQP notifier.
func NewBroker(publisher Publisher) *Broker {
	return &Broker{publisher: publisher}
}

// ReconciliationUnmatched implements reconciliation.Notifier.
func (b *Broker) ReconciliationUnmatched(ctx context.Context, alert reconciliation.Alert) error {
	return b.publisher.Publish(ctx, events.RoutingReconciliationUnmatch, alert)
}

// Fanout delivers to every notifier and returns the first error.
type Fanout []reconciliation.Notifier

// ReconciliationUnmatched implements reconciliation.Notifier.
func (f Fanout) ReconciliationUnmatched(ctx context.Context, alert reconciliation.Alert) error {
	var first error
	for _, n := range f {
		if err := n.ReconciliationUnmatched(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Options carries the collaborators a driver may need.
type Options struct {
	Logger    *slog.Logger
	Enqueuer  Enqueuer
	Publisher Publisher
}

// New selects the notifier for driver. Empty means log.
func New(driver string, opts Options) (reconciliation.Notifier, error) {
	switch driver {
	case "", DriverLog:
		return NewLog(opts.Logger), nil
	case DriverAsynq:
		if opts.Enqueuer == nil {
			return nil, fmt.Errorf("notify: driver %s needs a job client", driver)
		}
		return NewQueue(opts.Enqueuer), nil
	case DriverAMQP:
		if opts.Publisher == nil {
			return nil, fmt.Errorf("notify: driver %s needs AMQP_URL", driver)
		}
		return Fanout{NewLog(opts.Logger), NewBroker(opts.Publisher)}, nil
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", driver)
	}
}
