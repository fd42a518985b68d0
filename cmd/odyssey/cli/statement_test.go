package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/statements"
)

func TestPrinterAmount(t *testing.T) {
	pr := NewPrinter("en")
	assert.Equal(t, "1,234,567.89", pr.Amount(123456789))
	assert.Equal(t, "500.00", pr.Amount(50000))
	assert.Equal(t, "-0.05", pr.Amount(-5))
	assert.Equal(t, "500.00", NewPrinter("not a locale").Amount(50000))
}

func TestPrinterStatement(t *testing.T) {
	stmt := statements.Statement{
		StudentID: 42,
		AsOf:      shared.NewDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		Entries: []statements.Entry{
			{Date: shared.NewDate(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), Description: "Spring tuition", Type: statements.EntryBill, Amount: 50000, Balance: 50000},
			{Date: shared.NewDate(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)), Description: "Payment", Type: statements.EntryPayment, Amount: 30000, Balance: 20000},
		},
		Summary: statements.Summary{TotalBilled: 50000, TotalPaid: 30000, OutstandingBalance: 20000},
	}
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("en").Statement(&buf, stmt))
	out := buf.String()
	assert.Contains(t, out, "Student 42 as of 2025-03-01")
	assert.Contains(t, out, "Spring tuition")
	assert.Contains(t, out, "-300.00")
	assert.Contains(t, out, "200.00")
}

func TestBuildTaskRejectsUnknownJob(t *testing.T) {
	task, err := buildTask("ledger:period_close", 3)
	require.NoError(t, err)
	assert.Equal(t, "ledger:period_close", task.Type())
	_, err = buildTask("consolidate:refresh", 0)
	require.Error(t, err)
}
