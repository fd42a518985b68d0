package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
)

type stubEnqueuer struct{ alerts []reconciliation.Alert }

func (s *stubEnqueuer) EnqueueReconciliationAlert(ctx context.Context, alert reconciliation.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

type stubPublisher struct {
	keys []string
	err  error
}

func (s *stubPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	s.keys = append(s.keys, routingKey)
	return s.err
}

var alert = reconciliation.Alert{ReconciliationID: 3, PeriodName: "Spring-2025", AccountCode: "1200", Difference: -1500}

func TestNewSelectsDriver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n, err := New("", Options{Logger: logger})
	require.NoError(t, err)
	require.NoError(t, n.ReconciliationUnmatched(context.Background(), alert))
	assert.Contains(t, buf.String(), "account=1200")
	assert.Contains(t, buf.String(), "difference=-1500")

	enq := &stubEnqueuer{}
	n, err = New(DriverAsynq, Options{Enqueuer: enq})
	require.NoError(t, err)
	require.NoError(t, n.ReconciliationUnmatched(context.Background(), alert))
	assert.Len(t, enq.alerts, 1)

	_, err = New(DriverAsynq, Options{})
	assert.Error(t, err)
	_, err = New("pager", Options{})
	assert.Error(t, err)
}

func TestBrokerFanoutReportsPublishFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	n, err := New(DriverAMQP, Options{Publisher: pub, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	require.NoError(t, err)
	err = n.ReconciliationUnmatched(context.Background(), alert)
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []string{events.RoutingReconciliationUnmatch}, pub.keys)
}
