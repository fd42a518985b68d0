package statements

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"

// EntryType labels a statement line by its source document.
type EntryType string

const (
	EntryBill    EntryType = "bill"
	EntryPayment EntryType = "payment"
)

// Entry is one line of a student statement. Amount is always positive;
// Balance is the running balance after the line.
type Entry struct {
	Date        shared.Date `json:"date"`
	Description string      `json:"description"`
	Type        EntryType   `json:"type"`
	Amount      int64       `json:"amount"`
	Balance     int64       `json:"balance"`
}

// Summary totals a statement.
type Summary struct {
	TotalBilled        int64 `json:"total_billed"`
	TotalPaid          int64 `json:"total_paid"`
	OutstandingBalance int64 `json:"outstanding_balance"`
}

// Statement is the running-balance ledger of one student.
type Statement struct {
	StudentID int64       `json:"student_id"`
	AsOf      shared.Date `json:"as_of"`
	Entries   []Entry     `json:"entries"`
	Summary   Summary     `json:"summary"`
}
