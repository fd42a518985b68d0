package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("ledger:gl_integrity").End(nil)
	err := m.Track("ledger:gl_integrity").End(errors.New("db down"))
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected error passthrough, got %v", err)
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "success")); got != 1 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("ledger:gl_integrity")); got != 1 {
		t.Fatalf("failures = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	hist := findMetric(t, families, "odyssey_job_duration_seconds", "ledger:gl_integrity").GetHistogram()
	if hist.GetSampleCount() != 2 {
		t.Fatalf("duration samples = %d", hist.GetSampleCount())
	}
}

func TestAddFindingsIgnoresEmpty(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFindings("ledger:reconciliation_alert", "unmatched", 0)
	m.AddFindings("ledger:reconciliation_alert", "unmatched", 2)
	m.AddFindings("ledger:gl_integrity", "drift", 1)

	if got := testutil.ToFloat64(m.findings.WithLabelValues("ledger:reconciliation_alert", "unmatched")); got != 2 {
		t.Fatalf("unmatched findings = %v", got)
	}
	if n := testutil.CollectAndCount(m.findings); n != 2 {
		t.Fatalf("finding series = %d", n)
	}

	var nilMetrics *Metrics
	nilMetrics.AddFindings("x", "drift", 3)
	if err := nilMetrics.Track("x").End(nil); err != nil {
		t.Fatalf("nil tracker: %v", err)
	}
}

func findMetric(t *testing.T, families []*dto.MetricFamily, name, job string) *dto.Metric {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "job" && lp.GetValue() == job {
					return metric
				}
			}
		}
	}
	t.Fatalf("metric %s for job %s not found", name, job)
	return nil
}
