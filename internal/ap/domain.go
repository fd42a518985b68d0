package ap

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// InvoiceStatus enumerates AP invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusApproved      InvoiceStatus = "approved"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially-paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
)

// Payable reports whether payments may be allocated to the invoice.
func (s InvoiceStatus) Payable() bool {
	return s == InvoiceStatusApproved || s == InvoiceStatusPartiallyPaid
}

func invoiceStatus(total, outstanding int64) InvoiceStatus {
	switch {
	case outstanding == 0:
		return InvoiceStatusPaid
	case outstanding < total:
		return InvoiceStatusPartiallyPaid
	}
	return InvoiceStatusApproved
}

// POStatus enumerates purchase order statuses.
type POStatus string

const (
	POStatusOpen              POStatus = "open"
	POStatusPartiallyReceived POStatus = "partially-received"
	POStatusReceived          POStatus = "received"
)

// Vendor is a supplier the institution owes money to.
type Vendor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Invoice is a vendor bill. Drafts carry no journal entry; approval posts
// Dr expense / Cr AP control.
type Invoice struct {
	ID               int64         `json:"id"`
	VendorID         int64         `json:"vendor_id"`
	Number           string        `json:"number"`
	Date             shared.Date   `json:"date"`
	DueDate          shared.Date   `json:"due_date"`
	FundID           *int64        `json:"fund_id,omitempty"`
	ControlAccountID int64         `json:"control_account_id"`
	Total            int64         `json:"total"`
	Outstanding      int64         `json:"outstanding"`
	Status           InvoiceStatus `json:"status"`
	PurchaseOrderID  *int64        `json:"purchase_order_id,omitempty"`
	JournalEntryID   int64         `json:"journal_entry_id,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key,omitempty"`
	ApprovedBy       *int64        `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	CreatedBy        int64         `json:"created_by"`
	CreatedAt        time.Time     `json:"created_at"`
	Lines            []InvoiceLine `json:"lines"`

	Replayed bool `json:"-"`
}

func cloneInvoice(inv Invoice) Invoice {
	inv.Lines = append([]InvoiceLine(nil), inv.Lines...)
	return inv
}

// InvoiceLine is one expense on an invoice.
type InvoiceLine struct {
	ID               int64  `json:"id"`
	InvoiceID        int64  `json:"invoice_id"`
	Description      string `json:"description"`
	ExpenseAccountID int64  `json:"expense_account_id"`
	Amount           int64  `json:"amount"`
}

// Payment is money paid to a vendor.
type Payment struct {
	ID                          int64        `json:"id"`
	VendorID                    int64        `json:"vendor_id"`
	Date                        shared.Date  `json:"date"`
	Amount                      int64        `json:"amount"`
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

// Allocation applies part of a payment to an invoice.
type Allocation struct {
	ID        int64 `json:"id"`
	PaymentID int64 `json:"payment_id"`
	InvoiceID int64 `json:"invoice_id"`
	Amount    int64 `json:"amount"`
}

// PurchaseOrder is an order placed with a vendor. Receiving goods against it
// generates approved invoices.
type PurchaseOrder struct {
	ID        int64       `json:"id"`
	VendorID  int64       `json:"vendor_id"`
	Number    string      `json:"number"`
	Date      shared.Date `json:"date"`
	FundID    *int64      `json:"fund_id,omitempty"`
	Status    POStatus    `json:"status"`
	CreatedBy int64       `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	Lines     []POLine    `json:"lines"`
}

func clonePurchaseOrder(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	return po
}

// POLine is one ordered item.
type POLine struct {
	ID               int64  `json:"id"`
	PurchaseOrderID  int64  `json:"purchase_order_id"`
	Description      string `json:"description"`
	ExpenseAccountID int64  `json:"expense_account_id"`
	Quantity         int64  `json:"quantity"`
	UnitCost         int64  `json:"unit_cost"`
	ReceivedQuantity int64  `json:"received_quantity"`
}

// Remaining returns the quantity not yet received.
func (l POLine) Remaining() int64 { return l.Quantity - l.ReceivedQuantity }

// VendorInput carries the fields for CreateVendor.
type VendorInput struct {
	Name    string
	Email   string
	ActorID int64
}

// InvoiceLineInput describes one expense. The account defaults to the
// AP/ap.expense mapping.
type InvoiceLineInput struct {
	Description        string
	ExpenseAccountCode string
	Amount             int64

	expenseAccountID int64
}

// InvoiceInput carries the fields for CreateInvoice.
type InvoiceInput struct {
	VendorID           int64
	Number             string
	Date               time.Time
	DueDate            *time.Time
	FundID             *int64
	ControlAccountCode string
	Lines              []InvoiceLineInput
	// Approve posts the invoice immediately.
	Approve        bool
	IdempotencyKey string
	ActorID        int64

	purchaseOrderID *int64
}

// AllocationInput targets an approved invoice.
type AllocationInput struct {
	InvoiceID int64
	Amount    int64
}

// PaymentInput carries the fields for RecordPayment.
type PaymentInput struct {
	VendorID        int64
	Date            time.Time
	Amount          int64
	Reference       string
	CashAccountCode string
	Allocations     []AllocationInput
	IdempotencyKey  string
	ActorID         int64
}

// POLineInput describes one ordered item.
type POLineInput struct {
	Description        string
	ExpenseAccountCode string
	Quantity           int64
	UnitCost           int64
}

// PurchaseOrderInput carries the fields for CreatePurchaseOrder.
type PurchaseOrderInput struct {
	VendorID int64
	Date     time.Time
	FundID   *int64
	Lines    []POLineInput
	ActorID  int64
}

// ReceiveLineInput records a received quantity on a PO line.
type ReceiveLineInput struct {
	LineID   int64
	Quantity int64
}

// ReceiveInput carries the fields for ReceivePurchaseOrder.
type ReceiveInput struct {
	PurchaseOrderID int64
	Date            time.Time
	DueDate         *time.Time
	Lines           []ReceiveLineInput
	IdempotencyKey  string
	ActorID         int64
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	VendorID int64
	Status   InvoiceStatus
}

// AgingBucket groups outstanding amounts by days past due.
type AgingBucket struct {
	Current   int64 `json:"current"`
	Bucket30  int64 `json:"bucket_30"`
	Bucket60  int64 `json:"bucket_60"`
	Bucket90  int64 `json:"bucket_90"`
	Bucket120 int64 `json:"bucket_120"`
}
