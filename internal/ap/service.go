package ap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

const (
	invoicePrefix       = "INV"
	purchaseOrderPrefix = "PO"
)

// Poster posts journal entries inside the caller's transaction.
type Poster interface {
	PostInTx(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
	Notify(ctx context.Context, entry journals.JournalEntry)
}

// AccountResolver resolves postable accounts.
type AccountResolver interface {
	ResolveForPosting(ctx context.Context, id int64, code string) (accounts.Account, error)
}

// MappingResolver resolves module default accounts.
type MappingResolver interface {
	Resolve(ctx context.Context, module, key string) (accounts.Account, error)
}

// AuditPort records subledger documents.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// Service handles vendors, invoices, payments and purchase orders and posts
// them to the GL.
type Service struct {
	repo     Repository
	poster   Poster
	accounts AccountResolver
	mappings MappingResolver
	audit    AuditPort
	now      func() time.Time
}

// NewService builds the AP adapter.
func NewService(repo Repository, poster Poster, accts AccountResolver, maps MappingResolver, audit AuditPort) *Service {
	return &Service{repo: repo, poster: poster, accounts: accts, mappings: maps, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateVendor registers a vendor.
func (s *Service) CreateVendor(ctx context.Context, input VendorInput) (Vendor, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Vendor{}, shared.Invalid("name", "is required")
	}
	var vendor Vendor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertVendor(ctx, Vendor{Name: name, Email: strings.TrimSpace(input.Email), IsActive: true, CreatedAt: s.now()})
		if err != nil {
			return err
		}
		vendor = inserted
		return s.record(ctx, input.ActorID, "ap.vendor.create", "ap_vendors", inserted.ID, inserted, nil)
	})
	return vendor, err
}

// GetVendor returns one vendor.
func (s *Service) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// ListVendors returns every vendor by name.
func (s *Service) ListVendors(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

func activeVendor(ctx context.Context, tx TxRepository, id int64) error {
	if id <= 0 {
		return shared.Invalid("vendor_id", "is required")
	}
	v, err := tx.GetVendor(ctx, id)
	if err != nil {
		return err
	}
	if !v.IsActive {
		return shared.Invalid("vendor_id", fmt.Sprintf("vendor %d is inactive", id))
	}
	return nil
}

func (in InvoiceInput) validate() (int64, error) {
	if in.Date.IsZero() {
		return 0, shared.Invalid("date", "is required")
	}
	if in.DueDate != nil && shared.Day(*in.DueDate).Before(shared.Day(in.Date)) {
		return 0, shared.Invalid("due_date", "must not precede the invoice date")
	}
	if len(in.Lines) == 0 {
		return 0, shared.Invalid("lines", "at least one line is required")
	}
	var total int64
	for idx, line := range in.Lines {
		if strings.TrimSpace(line.Description) == "" {
			return 0, shared.Invalid(fmt.Sprintf("lines[%d].description", idx), "is required")
		}
		if line.Amount <= 0 {
			return 0, shared.Invalid(fmt.Sprintf("lines[%d].amount", idx), "must be positive")
		}
		if line.Amount > shared.MaxMinorUnits-total {
			return 0, shared.Invalid("lines", "total exceeds the supported range")
		}
		total += line.Amount
	}
	return total, nil
}

// CreateInvoice stores a draft invoice, approving and posting it at once
// when input.Approve is set.
func (s *Service) CreateInvoice(ctx context.Context, input InvoiceInput) (Invoice, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	total, err := input.validate()
	if err != nil {
		return Invoice{}, err
	}
	var (
		invoice Invoice
		entry   *journals.JournalEntry
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, err := tx.FindInvoiceByKey(ctx, input.IdempotencyKey)
			if err == nil {
				existing.Replayed = true
				invoice = existing
				return nil
			}
			if !shared.IsNotFound(err) {
				return err
			}
		}
		invoice, entry, err = s.createInvoice(ctx, tx, input, total)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	if entry != nil {
		s.poster.Notify(ctx, *entry)
	}
	return invoice, nil
}

func (s *Service) createInvoice(ctx context.Context, tx TxRepository, input InvoiceInput, total int64) (Invoice, *journals.JournalEntry, error) {
	if err := activeVendor(ctx, tx, input.VendorID); err != nil {
		return Invoice{}, nil, err
	}
	control, err := s.controlAccount(ctx, input.ControlAccountCode)
	if err != nil {
		return Invoice{}, nil, err
	}
	lines := make([]InvoiceLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		var expense accounts.Account
		if in.expenseAccountID != 0 {
			expense, err = s.accounts.ResolveForPosting(ctx, in.expenseAccountID, "")
		} else {
			expense, err = s.resolve(ctx, in.ExpenseAccountCode, mappings.KeyAPExpense)
		}
		if err != nil {
			return Invoice{}, nil, err
		}
		lines = append(lines, InvoiceLine{Description: strings.TrimSpace(in.Description), ExpenseAccountID: expense.ID, Amount: in.Amount})
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		if number, err = tx.NextNumber(ctx, invoicePrefix, input.Date); err != nil {
			return Invoice{}, nil, err
		}
	}
	draft := Invoice{
		VendorID:         input.VendorID,
		Number:           number,
		Date:             shared.NewDate(input.Date),
		FundID:           input.FundID,
		ControlAccountID: control.ID,
		Total:            total,
		Outstanding:      total,
		Status:           InvoiceStatusDraft,
		PurchaseOrderID:  input.purchaseOrderID,
		IdempotencyKey:   input.IdempotencyKey,
		CreatedBy:        input.ActorID,
		CreatedAt:        s.now(),
		Lines:            lines,
	}
	if input.DueDate != nil {
		draft.DueDate = shared.NewDate(*input.DueDate)
	}
	inserted, err := tx.InsertInvoice(ctx, draft)
	if err != nil {
		return Invoice{}, nil, err
	}
	if err := s.record(ctx, input.ActorID, "ap.invoice.create", "ap_invoices", inserted.ID, inserted, nil); err != nil {
		return Invoice{}, nil, err
	}
	if !input.Approve {
		return inserted, nil, nil
	}
	approved, entry, err := s.approve(ctx, tx, inserted, input.ActorID)
	if err != nil {
		return Invoice{}, nil, err
	}
	return approved, &entry, nil
}

// ApproveInvoice posts a draft invoice: Dr expense per line, Cr AP control.
func (s *Service) ApproveInvoice(ctx context.Context, id, actorID int64) (Invoice, error) {
	var (
		invoice Invoice
		entry   journals.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetInvoice(ctx, id, true)
		if err != nil {
			return err
		}
		if current.Status != InvoiceStatusDraft {
			return &shared.ConflictError{Reason: fmt.Sprintf("invoice %s is already %s", current.Number, current.Status)}
		}
		invoice, entry, err = s.approve(ctx, tx, current, actorID)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.poster.Notify(ctx, entry)
	return invoice, nil
}

func (s *Service) approve(ctx context.Context, tx TxRepository, inv Invoice, actorID int64) (Invoice, journals.JournalEntry, error) {
	entry, err := s.poster.PostInTx(ctx, invoicePosting(inv, actorID))
	if err != nil {
		return Invoice{}, journals.JournalEntry{}, err
	}
	old := inv
	now := s.now()
	inv.Status = InvoiceStatusApproved
	inv.JournalEntryID = entry.ID
	inv.ApprovedBy = &actorID
	inv.ApprovedAt = &now
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, journals.JournalEntry{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Log{
			ActorID:  actorID,
			Action:   "ap.invoice.approve",
			Entity:   "ap_invoices",
			EntityID: audit.EntityID(inv.ID),
			Old:      audit.Snapshot(old),
			New:      audit.Snapshot(inv),
			Meta:     map[string]any{"journal_entry_id": entry.ID},
			At:       now,
		}); err != nil {
			return Invoice{}, journals.JournalEntry{}, err
		}
	}
	return inv, entry, nil
}

func invoicePosting(inv Invoice, actorID int64) journals.PostingInput {
	memo := fmt.Sprintf("Vendor %d invoice %s", inv.VendorID, inv.Number)
	id := inv.ID
	lines := make([]journals.PostingLineInput, 0, len(inv.Lines)+1)
	for _, l := range inv.Lines {
		lines = append(lines, journals.PostingLineInput{AccountID: l.ExpenseAccountID, FundID: inv.FundID, Debit: l.Amount, Description: l.Description})
	}
	lines = append(lines, journals.PostingLineInput{AccountID: inv.ControlAccountID, FundID: inv.FundID, Credit: inv.Total, Description: memo})
	return journals.PostingInput{
		Date:       inv.Date.Time,
		Memo:       memo,
		SourceType: shared.SourceAPInvoice,
		SourceID:   &id,
		PostedBy:   actorID,
		Lines:      lines,
	}
}

func (in PaymentInput) validate() error {
	if in.VendorID <= 0 {
		return shared.Invalid("vendor_id", "is required")
	}
	if in.Date.IsZero() {
		return shared.Invalid("date", "is required")
	}
	if in.Amount <= 0 {
		return shared.Invalid("amount", "must be positive")
	}
	if in.Amount > shared.MaxMinorUnits {
		return shared.Invalid("amount", "exceeds the supported range")
	}
	var allocated int64
	for idx, a := range in.Allocations {
		if a.InvoiceID <= 0 {
			return shared.Invalid(fmt.Sprintf("allocations[%d].invoice_id", idx), "is required")
		}
		if a.Amount <= 0 {
			return shared.Invalid(fmt.Sprintf("allocations[%d].amount", idx), "must be positive")
		}
		if a.Amount > in.Amount-allocated {
			return &shared.OverAllocationError{Target: "payment", Requested: allocated + a.Amount, Available: in.Amount}
		}
		allocated += a.Amount
	}
	return nil
}

// RecordPayment stores a vendor payment and posts Dr AP control / Cr cash.
// Allocations must target approved invoices of the same vendor; any
// remainder is a prepayment debited to the default AP control account.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := input.validate(); err != nil {
		return Payment{}, err
	}
	var (
		payment Payment
		entry   journals.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, err := tx.FindPaymentByKey(ctx, input.IdempotencyKey)
			if err == nil {
				existing.Replayed = true
				payment = existing
				return nil
			}
			if !shared.IsNotFound(err) {
				return err
			}
		}
		if err := activeVendor(ctx, tx, input.VendorID); err != nil {
			return err
		}
		invoices, err := lockInvoices(ctx, tx, input)
		if err != nil {
			return err
		}
		var allocations []Allocation
		var allocated int64
		for _, a := range input.Allocations {
			inv := invoices[a.InvoiceID]
			if a.Amount > inv.Outstanding {
				return &shared.OverAllocationError{Target: "invoice " + inv.Number, Requested: a.Amount, Available: inv.Outstanding}
			}
			inv.Outstanding -= a.Amount
			inv.Status = invoiceStatus(inv.Total, inv.Outstanding)
			allocated += a.Amount
			allocations = append(allocations, Allocation{InvoiceID: inv.ID, Amount: a.Amount})
		}
		cash, err := s.resolve(ctx, input.CashAccountCode, mappings.KeyAPCash)
		if err != nil {
			return err
		}
		draft := Payment{
			VendorID:       input.VendorID,
			Date:           shared.NewDate(input.Date),
			Amount:         input.Amount,
			Reference:      strings.TrimSpace(input.Reference),
			CashAccountID:  cash.ID,
			Unallocated:    input.Amount - allocated,
			IdempotencyKey: input.IdempotencyKey,
			CreatedBy:      input.ActorID,
			CreatedAt:      s.now(),
			Allocations:    allocations,
		}
		if draft.Unallocated > 0 {
			control, err := s.controlAccount(ctx, "")
			if err != nil {
				return err
			}
			draft.UnallocatedControlAccountID = &control.ID
		}
		inserted, err := tx.InsertPayment(ctx, draft)
		if err != nil {
			return err
		}
		entry, err = s.poster.PostInTx(ctx, paymentPosting(inserted, invoices, input.ActorID))
		if err != nil {
			return err
		}
		if err := tx.SetPaymentJournal(ctx, inserted.ID, entry.ID); err != nil {
			return err
		}
		inserted.JournalEntryID = entry.ID
		for _, id := range sortedInvoiceIDs(invoices) {
			if err := tx.UpdateInvoice(ctx, *invoices[id]); err != nil {
				return err
			}
		}
		payment = inserted
		return s.record(ctx, input.ActorID, "ap.payment.create", "ap_payments", inserted.ID, inserted, map[string]any{
			"journal_entry_id": entry.ID,
			"vendor_id":        inserted.VendorID,
			"unallocated":      inserted.Unallocated,
		})
	})
	if err != nil {
		return Payment{}, err
	}
	if !payment.Replayed {
		s.poster.Notify(ctx, entry)
	}
	return payment, nil
}

// lockInvoices loads referenced invoices for update in id order.
func lockInvoices(ctx context.Context, tx TxRepository, input PaymentInput) (map[int64]*Invoice, error) {
	invoices := make(map[int64]*Invoice)
	for _, a := range input.Allocations {
		invoices[a.InvoiceID] = nil
	}
	for _, id := range sortedInvoiceIDs(invoices) {
		inv, err := tx.GetInvoice(ctx, id, true)
		if err != nil {
			return nil, err
		}
		if inv.VendorID != input.VendorID {
			return nil, shared.Invalid("allocations", fmt.Sprintf("invoice %s belongs to another vendor", inv.Number))
		}
		if !inv.Status.Payable() {
			return nil, shared.Invalid("allocations", fmt.Sprintf("invoice %s is %s", inv.Number, inv.Status))
		}
		invoices[id] = &inv
	}
	return invoices, nil
}

func sortedInvoiceIDs(invoices map[int64]*Invoice) []int64 {
	ids := make([]int64, 0, len(invoices))
	for id := range invoices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type debitKey struct {
	control int64
	fund    int64
}

// paymentPosting pairs each control debit with a cash credit in the same
// fund.
func paymentPosting(p Payment, invoices map[int64]*Invoice, actorID int64) journals.PostingInput {
	memo := fmt.Sprintf("Vendor %d payment %d", p.VendorID, p.ID)
	if p.Reference != "" {
		memo += " ref " + p.Reference
	}
	amounts := make(map[debitKey]int64)
	funds := make(map[debitKey]*int64)
	var keys []debitKey
	add := func(k debitKey, fund *int64, amount int64) {
		if _, ok := amounts[k]; !ok {
			keys = append(keys, k)
			funds[k] = fund
		}
		amounts[k] += amount
	}
	for _, a := range p.Allocations {
		inv := invoices[a.InvoiceID]
		k := debitKey{control: inv.ControlAccountID}
		if inv.FundID != nil {
			k.fund = *inv.FundID
		}
		add(k, inv.FundID, a.Amount)
	}
	if p.Unallocated > 0 {
		add(debitKey{control: *p.UnallocatedControlAccountID}, nil, p.Unallocated)
	}
	lines := make([]journals.PostingLineInput, 0, 2*len(keys))
	for _, k := range keys {
		lines = append(lines,
			journals.PostingLineInput{AccountID: k.control, FundID: funds[k], Debit: amounts[k], Description: memo},
			journals.PostingLineInput{AccountID: p.CashAccountID, FundID: funds[k], Credit: amounts[k], Description: memo},
		)
	}
	id := p.ID
	return journals.PostingInput{
		Date:       p.Date.Time,
		Memo:       memo,
		SourceType: shared.SourceAPPayment,
		SourceID:   &id,
		PostedBy:   actorID,
		Lines:      lines,
	}
}

func (in PurchaseOrderInput) validate() error {
	if in.Date.IsZero() {
		return shared.Invalid("date", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Invalid("lines", "at least one line is required")
	}
	var total int64
	for idx, l := range in.Lines {
		if strings.TrimSpace(l.Description) == "" {
			return shared.Invalid(fmt.Sprintf("lines[%d].description", idx), "is required")
		}
		if l.Quantity <= 0 || l.UnitCost <= 0 {
			return shared.Invalid(fmt.Sprintf("lines[%d]", idx), "quantity and unit cost must be positive")
		}
		if l.UnitCost > (shared.MaxMinorUnits-total)/l.Quantity {
			return shared.Invalid("lines", "total exceeds the supported range")
		}
		total += l.Quantity * l.UnitCost
	}
	return nil
}

// CreatePurchaseOrder records an order. Nothing posts until goods arrive.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input PurchaseOrderInput) (PurchaseOrder, error) {
	if err := input.validate(); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := activeVendor(ctx, tx, input.VendorID); err != nil {
			return err
		}
		lines := make([]POLine, 0, len(input.Lines))
		for _, in := range input.Lines {
			expense, err := s.resolve(ctx, in.ExpenseAccountCode, mappings.KeyAPExpense)
			if err != nil {
				return err
			}
			lines = append(lines, POLine{Description: strings.TrimSpace(in.Description), ExpenseAccountID: expense.ID, Quantity: in.Quantity, UnitCost: in.UnitCost})
		}
		number, err := tx.NextNumber(ctx, purchaseOrderPrefix, input.Date)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertPurchaseOrder(ctx, PurchaseOrder{
			VendorID:  input.VendorID,
			Number:    number,
			Date:      shared.NewDate(input.Date),
			FundID:    input.FundID,
			Status:    POStatusOpen,
			CreatedBy: input.ActorID,
			CreatedAt: s.now(),
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		order = inserted
		return s.record(ctx, input.ActorID, "ap.po.create", "ap_purchase_orders", inserted.ID, inserted, nil)
	})
	return order, err
}

// ReceivePurchaseOrder records received quantities and generates an
// approved invoice for their value, dated at receipt.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, input ReceiveInput) (Invoice, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if input.Date.IsZero() {
		return Invoice{}, shared.Invalid("date", "is required")
	}
	if len(input.Lines) == 0 {
		return Invoice{}, shared.Invalid("lines", "at least one received line is required")
	}
	var (
		invoice Invoice
		entry   *journals.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, err := tx.FindInvoiceByKey(ctx, input.IdempotencyKey)
			if err == nil {
				existing.Replayed = true
				invoice = existing
				return nil
			}
			if !shared.IsNotFound(err) {
				return err
			}
		}
		po, err := tx.GetPurchaseOrder(ctx, input.PurchaseOrderID, true)
		if err != nil {
			return err
		}
		if po.Status == POStatusReceived {
			return &shared.ConflictError{Reason: fmt.Sprintf("purchase order %s is fully received", po.Number)}
		}
		old := clonePurchaseOrder(po)
		index := make(map[int64]int, len(po.Lines))
		for i, l := range po.Lines {
			index[l.ID] = i
		}
		var (
			invLines []InvoiceLineInput
			total    int64
		)
		for idx, rl := range input.Lines {
			i, ok := index[rl.LineID]
			if !ok {
				return shared.Invalid(fmt.Sprintf("lines[%d].line_id", idx), fmt.Sprintf("line %d is not on purchase order %s", rl.LineID, po.Number))
			}
			line := &po.Lines[i]
			if rl.Quantity <= 0 {
				return shared.Invalid(fmt.Sprintf("lines[%d].quantity", idx), "must be positive")
			}
			if rl.Quantity > line.Remaining() {
				return shared.Invalid(fmt.Sprintf("lines[%d].quantity", idx), fmt.Sprintf("only %d remaining on line %d", line.Remaining(), line.ID))
			}
			line.ReceivedQuantity += rl.Quantity
			amount := rl.Quantity * line.UnitCost
			total += amount
			invLines = append(invLines, InvoiceLineInput{Description: line.Description, Amount: amount, expenseAccountID: line.ExpenseAccountID})
		}
		po.Status = receiptStatus(po)
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		if err := s.recordChange(ctx, input.ActorID, "ap.po.receive", "ap_purchase_orders", po.ID, old, po); err != nil {
			return err
		}
		poID := po.ID
		invInput := InvoiceInput{
			VendorID:        po.VendorID,
			Date:            input.Date,
			DueDate:         input.DueDate,
			FundID:          po.FundID,
			Lines:           invLines,
			Approve:         true,
			IdempotencyKey:  input.IdempotencyKey,
			ActorID:         input.ActorID,
			purchaseOrderID: &poID,
		}
		invoice, entry, err = s.createInvoice(ctx, tx, invInput, total)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	if entry != nil {
		s.poster.Notify(ctx, *entry)
	}
	return invoice, nil
}

func receiptStatus(po PurchaseOrder) POStatus {
	var ordered, received int64
	for _, l := range po.Lines {
		ordered += l.Quantity
		received += l.ReceivedQuantity
	}
	switch {
	case received == 0:
		return POStatusOpen
	case received < ordered:
		return POStatusPartiallyReceived
	}
	return POStatusReceived
}

// controlAccount resolves code, or the AP/ap.control mapping when empty,
// and checks it is an AP control account.
func (s *Service) controlAccount(ctx context.Context, code string) (accounts.Account, error) {
	account, err := s.resolve(ctx, code, mappings.KeyAPControl)
	if err != nil {
		return accounts.Account{}, err
	}
	if !account.IsControl || account.ControlOwner != shared.OwnerAP {
		return accounts.Account{}, shared.Invalid("control_account", fmt.Sprintf("%s is not an AP control account", account.Code))
	}
	return account, nil
}

func (s *Service) resolve(ctx context.Context, code, key string) (accounts.Account, error) {
	if code = strings.TrimSpace(code); code != "" {
		return s.accounts.ResolveForPosting(ctx, 0, code)
	}
	return s.mappings.Resolve(ctx, mappings.ModuleAP, key)
}

// GetInvoice returns one invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id, false)
}

// ListInvoices returns invoices matching filter by date.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns payments for a vendor, or all when vendorID is 0.
func (s *Service) ListPayments(ctx context.Context, vendorID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, vendorID)
}

// GetPurchaseOrder returns one purchase order.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id, false)
}

// ListPurchaseOrders returns orders for a vendor, or all when vendorID is 0.
func (s *Service) ListPurchaseOrders(ctx context.Context, vendorID int64) ([]PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, vendorID)
}

// SubledgerTotal returns approved invoices minus applied payments on a
// control account for documents dated within [from, to].
func (s *Service) SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error) {
	return s.repo.SubledgerTotal(ctx, controlAccountID, shared.Day(from), shared.Day(to))
}

// CountPendingInvoices counts drafts dated within [from, to].
func (s *Service) CountPendingInvoices(ctx context.Context, from, to time.Time) (int, error) {
	return s.repo.CountDraftInvoices(ctx, shared.Day(from), shared.Day(to))
}

// CheckLock refuses to lock a period holding draft invoices.
func (s *Service) CheckLock(ctx context.Context, period periods.Period) error {
	n, err := s.CountPendingInvoices(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return err
	}
	if n > 0 {
		return &shared.OpenPostingsPendingError{PeriodName: period.Name, Pending: n}
	}
	return nil
}

// Aging returns outstanding approved invoices by days past due.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	invoices, err := s.repo.ListInvoices(ctx, InvoiceFilter{})
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = shared.Day(asOf)
	var bucket AgingBucket
	for _, inv := range invoices {
		if !inv.Status.Payable() || inv.Date.After(asOf) {
			continue
		}
		due := inv.DueDate
		if due.IsZero() {
			due = inv.Date
		}
		daysOverdue := int(asOf.Sub(due.Time).Hours() / 24)
		if daysOverdue <= 0 {
			bucket.Current += inv.Outstanding
		} else if daysOverdue <= 30 {
			bucket.Bucket30 += inv.Outstanding
		} else if daysOverdue <= 60 {
			bucket.Bucket60 += inv.Outstanding
		} else if daysOverdue <= 90 {
			bucket.Bucket90 += inv.Outstanding
		} else {
			bucket.Bucket120 += inv.Outstanding
		}
	}
	return bucket, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, doc any, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: audit.EntityID(id),
		New:      audit.Snapshot(doc),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) recordChange(ctx context.Context, actorID int64, action, entity string, id int64, old, new any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: audit.EntityID(id),
		Old:      audit.Snapshot(old),
		New:      audit.Snapshot(new),
		At:       s.now(),
	})
}
