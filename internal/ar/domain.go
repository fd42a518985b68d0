package ar

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// BillStatus enumerates student bill states.
type BillStatus string

const (
	BillStatusOpen          BillStatus = "open"
	BillStatusPartiallyPaid BillStatus = "partially-paid"
	BillStatusPaid          BillStatus = "paid"
)

func billStatus(total, outstanding int64) BillStatus {
	switch {
	case outstanding == 0:
		return BillStatusPaid
	case outstanding < total:
		return BillStatusPartiallyPaid
	}
	return BillStatusOpen
}

// Bill is money owed by a student. Its journal entry debits the control
// account for Total.
type Bill struct {
	ID               int64       `json:"id"`
	StudentID        int64       `json:"student_id"`
	Date             shared.Date `json:"date"`
	DueDate          shared.Date `json:"due_date"`
	Memo             string      `json:"memo"`
	FundID           *int64      `json:"fund_id,omitempty"`
	ControlAccountID int64       `json:"control_account_id"`
	Total            int64       `json:"total"`
	Outstanding      int64       `json:"outstanding"`
	Status           BillStatus  `json:"status"`
	JournalEntryID   int64       `json:"journal_entry_id"`
	IdempotencyKey   string      `json:"idempotency_key,omitempty"`
	CreatedBy        int64       `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	Lines            []BillLine  `json:"lines"`

	Replayed bool `json:"-"`
}

func cloneBill(b Bill) Bill {
	b.Lines = append([]BillLine(nil), b.Lines...)
	return b
}

// BillLine is one charge on a bill.
type BillLine struct {
	ID              int64  `json:"id"`
	BillID          int64  `json:"bill_id"`
	Description     string `json:"description"`
	IncomeAccountID int64  `json:"income_account_id"`
	Amount          int64  `json:"amount"`
	Allocated       int64  `json:"allocated"`
}

// Outstanding returns the unpaid part of the line.
func (l BillLine) Outstanding() int64 { return l.Amount - l.Allocated }

// Payment is money received from a student.
type Payment struct {
	ID                          int64        `json:"id"`
	StudentID                   int64        `json:"student_id"`
	Date                        shared.Date  `json:"date"`
	Amount                      int64        `json:"amount"`
	Method                      string       `json:"method,omitempty"`
	Reference                   string       `json:"reference,omitempty"`
	CashAccountID               int64        `json:"cash_account_id"`
	Unallocated                 int64        `json:"unallocated"`
	UnallocatedControlAccountID *int64       `json:"unallocated_control_account_id,omitempty"`
	JournalEntryID              int64        `json:"journal_entry_id"`
	IdempotencyKey              string       `json:"idempotency_key,omitempty"`
	CreatedBy                   int64        `json:"created_by"`
	CreatedAt                   time.Time    `json:"created_at"`
	Allocations                 []Allocation `json:"allocations"`

	Replayed bool `json:"-"`
}

func clonePayment(p Payment) Payment {
	p.Allocations = append([]Allocation(nil), p.Allocations...)
	return p
}

// Allocation applies part of a payment to a bill line.
type Allocation struct {
	ID         int64 `json:"id"`
	PaymentID  int64 `json:"payment_id"`
	BillID     int64 `json:"bill_id"`
	LineItemID int64 `json:"line_item_id"`
	Amount     int64 `json:"amount"`
}

// BillLineInput describes one charge. The income account defaults to the
// AR/ar.income mapping.
type BillLineInput struct {
	Description       string
	IncomeAccountCode string
	Amount            int64
}

// BillInput carries the fields for RecordBill.
type BillInput struct {
	StudentID          int64
	Date               time.Time
	DueDate            *time.Time
	Memo               string
	FundID             *int64
	ControlAccountCode string
	Lines              []BillLineInput
	IdempotencyKey     string
	ActorID            int64
}

// AllocationInput targets a bill, or one of its lines when LineItemID is set.
type AllocationInput struct {
	BillID     int64
	LineItemID int64
	Amount     int64
}

// PaymentInput carries the fields for RecordPayment.
type PaymentInput struct {
	StudentID       int64
	Date            time.Time
	Amount          int64
	Method          string
	Reference       string
	CashAccountCode string
	Allocations     []AllocationInput
	IdempotencyKey  string
	ActorID         int64
}

// AgingBucket groups outstanding amounts by days past due.
type AgingBucket struct {
	Current   int64 `json:"current"`
	Bucket30  int64 `json:"bucket_30"`
	Bucket60  int64 `json:"bucket_60"`
	Bucket90  int64 `json:"bucket_90"`
	Bucket120 int64 `json:"bucket_120"`
}
