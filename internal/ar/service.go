package ar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
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

// Service records student bills and payments and posts them to the GL.
type Service struct {
	repo     Repository
	poster   Poster
	accounts AccountResolver
	mappings MappingResolver
	audit    AuditPort
	now      func() time.Time
}

// NewService builds the AR adapter.
func NewService(repo Repository, poster Poster, accts AccountResolver, maps MappingResolver, audit AuditPort) *Service {
	return &Service{repo: repo, poster: poster, accounts: accts, mappings: maps, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (in BillInput) validate() (int64, error) {
	if in.StudentID <= 0 {
		return 0, shared.Invalid("student_id", "is required")
	}
	if in.Date.IsZero() {
		return 0, shared.Invalid("date", "is required")
	}
	if in.DueDate != nil && shared.Day(*in.DueDate).Before(shared.Day(in.Date)) {
		return 0, shared.Invalid("due_date", "must not precede the bill date")
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

// RecordBill stores a bill and posts Dr AR control / Cr income per line.
// Bill and entry commit together.
func (s *Service) RecordBill(ctx context.Context, input BillInput) (Bill, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	total, err := input.validate()
	if err != nil {
		return Bill{}, err
	}
	var (
		bill  Bill
		entry journals.JournalEntry
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, err := tx.FindBillByKey(ctx, input.IdempotencyKey)
			if err == nil {
				existing.Replayed = true
				bill = existing
				return nil
			}
			if !shared.IsNotFound(err) {
				return err
			}
		}
		control, err := s.controlAccount(ctx, input.ControlAccountCode)
		if err != nil {
			return err
		}
		lines := make([]BillLine, 0, len(input.Lines))
		for _, in := range input.Lines {
			income, err := s.resolve(ctx, in.IncomeAccountCode, mappings.KeyARIncome)
			if err != nil {
				return err
			}
			lines = append(lines, BillLine{Description: strings.TrimSpace(in.Description), IncomeAccountID: income.ID, Amount: in.Amount})
		}
		draft := Bill{
			StudentID:        input.StudentID,
			Date:             shared.NewDate(input.Date),
			Memo:             strings.TrimSpace(input.Memo),
			FundID:           input.FundID,
			ControlAccountID: control.ID,
			Total:            total,
			Outstanding:      total,
			Status:           BillStatusOpen,
			IdempotencyKey:   input.IdempotencyKey,
			CreatedBy:        input.ActorID,
			CreatedAt:        s.now(),
			Lines:            lines,
		}
		if input.DueDate != nil {
			draft.DueDate = shared.NewDate(*input.DueDate)
		}
		inserted, err := tx.InsertBill(ctx, draft)
		if err != nil {
			return err
		}
		entry, err = s.poster.PostInTx(ctx, billPosting(inserted, input.ActorID))
		if err != nil {
			return err
		}
		inserted.JournalEntryID = entry.ID
		if err := tx.UpdateBill(ctx, inserted); err != nil {
			return err
		}
		bill = inserted
		return s.record(ctx, input.ActorID, "ar.bill.create", "ar_bills", inserted.ID, inserted, map[string]any{
			"journal_entry_id": entry.ID,
			"student_id":       inserted.StudentID,
		})
	})
	if err != nil {
		return Bill{}, err
	}
	if !bill.Replayed {
		s.poster.Notify(ctx, entry)
	}
	return bill, nil
}

func billPosting(b Bill, actorID int64) journals.PostingInput {
	memo := b.Memo
	if memo == "" {
		memo = fmt.Sprintf("Student %d bill %d", b.StudentID, b.ID)
	}
	id := b.ID
	lines := make([]journals.PostingLineInput, 0, len(b.Lines)+1)
	lines = append(lines, journals.PostingLineInput{AccountID: b.ControlAccountID, FundID: b.FundID, Debit: b.Total, Description: memo})
	for _, l := range b.Lines {
		lines = append(lines, journals.PostingLineInput{AccountID: l.IncomeAccountID, FundID: b.FundID, Credit: l.Amount, Description: l.Description})
	}
	return journals.PostingInput{
		Date:       b.Date.Time,
		Memo:       memo,
		SourceType: shared.SourceARBill,
		SourceID:   &id,
		PostedBy:   actorID,
		Lines:      lines,
	}
}

func (in PaymentInput) validate() error {
	if in.StudentID <= 0 {
		return shared.Invalid("student_id", "is required")
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
		if a.BillID <= 0 {
			return shared.Invalid(fmt.Sprintf("allocations[%d].bill_id", idx), "is required")
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

// RecordPayment stores a payment, applies its allocations to bill lines and
// posts Dr cash / Cr AR control. Any unallocated remainder is credited to
// the default AR control account.
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
		bills, err := s.lockBills(ctx, tx, input)
		if err != nil {
			return err
		}
		allocations, err := applyAllocations(bills, input.Allocations)
		if err != nil {
			return err
		}
		cash, err := s.resolve(ctx, input.CashAccountCode, mappings.KeyARCash)
		if err != nil {
			return err
		}
		draft := Payment{
			StudentID:      input.StudentID,
			Date:           shared.NewDate(input.Date),
			Amount:         input.Amount,
			Method:         strings.TrimSpace(input.Method),
			Reference:      strings.TrimSpace(input.Reference),
			CashAccountID:  cash.ID,
			IdempotencyKey: input.IdempotencyKey,
			CreatedBy:      input.ActorID,
			CreatedAt:      s.now(),
			Allocations:    allocations,
		}
		draft.Unallocated = input.Amount - sumAllocations(allocations)
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
		entry, err = s.poster.PostInTx(ctx, paymentPosting(inserted, bills, input.ActorID))
		if err != nil {
			return err
		}
		if err := tx.SetPaymentJournal(ctx, inserted.ID, entry.ID); err != nil {
			return err
		}
		inserted.JournalEntryID = entry.ID
		for _, id := range sortedBillIDs(bills) {
			if err := tx.UpdateBill(ctx, *bills[id]); err != nil {
				return err
			}
		}
		payment = inserted
		return s.record(ctx, input.ActorID, "ar.payment.create", "ar_payments", inserted.ID, inserted, map[string]any{
			"journal_entry_id": entry.ID,
			"student_id":       inserted.StudentID,
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

// lockBills loads every referenced bill for update in id order.
func (s *Service) lockBills(ctx context.Context, tx TxRepository, input PaymentInput) (map[int64]*Bill, error) {
	bills := make(map[int64]*Bill)
	for _, a := range input.Allocations {
		bills[a.BillID] = nil
	}
	for _, id := range sortedBillIDs(bills) {
		b, err := tx.GetBill(ctx, id, true)
		if err != nil {
			return nil, err
		}
		if b.StudentID != input.StudentID {
			return nil, shared.Invalid("allocations", fmt.Sprintf("bill %d belongs to another student", id))
		}
		bills[id] = &b
	}
	return bills, nil
}

func sortedBillIDs(bills map[int64]*Bill) []int64 {
	ids := make([]int64, 0, len(bills))
	for id := range bills {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// applyAllocations mutates bills and returns one allocation per line
// touched. A bill level allocation fills lines in id order.
func applyAllocations(bills map[int64]*Bill, inputs []AllocationInput) ([]Allocation, error) {
	var out []Allocation
	for _, in := range inputs {
		bill := bills[in.BillID]
		if in.LineItemID != 0 {
			idx := -1
			for i, l := range bill.Lines {
				if l.ID == in.LineItemID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, shared.Invalid("allocations", fmt.Sprintf("line %d is not on bill %d", in.LineItemID, bill.ID))
			}
			line := &bill.Lines[idx]
			if in.Amount > line.Outstanding() {
				return nil, &shared.OverAllocationError{Target: fmt.Sprintf("bill %d line %d", bill.ID, line.ID), Requested: in.Amount, Available: line.Outstanding()}
			}
			line.Allocated += in.Amount
			out = append(out, Allocation{BillID: bill.ID, LineItemID: line.ID, Amount: in.Amount})
		} else {
			if in.Amount > bill.Outstanding {
				return nil, &shared.OverAllocationError{Target: fmt.Sprintf("bill %d", bill.ID), Requested: in.Amount, Available: bill.Outstanding}
			}
			remaining := in.Amount
			for i := range bill.Lines {
				line := &bill.Lines[i]
				take := min(remaining, line.Outstanding())
				if take == 0 {
					continue
				}
				line.Allocated += take
				remaining -= take
				out = append(out, Allocation{BillID: bill.ID, LineItemID: line.ID, Amount: take})
				if remaining == 0 {
					break
				}
			}
		}
		bill.Outstanding -= in.Amount
		bill.Status = billStatus(bill.Total, bill.Outstanding)
	}
	return out, nil
}

func sumAllocations(allocs []Allocation) int64 {
	var total int64
	for _, a := range allocs {
		total += a.Amount
	}
	return total
}

type creditKey struct {
	control int64
	fund    int64
}

// paymentPosting pairs a cash debit with each control credit so every fund
// stays balanced.
func paymentPosting(p Payment, bills map[int64]*Bill, actorID int64) journals.PostingInput {
	memo := fmt.Sprintf("Student %d payment %d", p.StudentID, p.ID)
	if p.Reference != "" {
		memo += " ref " + p.Reference
	}
	amounts := make(map[creditKey]int64)
	funds := make(map[creditKey]*int64)
	var keys []creditKey
	add := func(k creditKey, fund *int64, amount int64) {
		if _, ok := amounts[k]; !ok {
			keys = append(keys, k)
			funds[k] = fund
		}
		amounts[k] += amount
	}
	for _, a := range p.Allocations {
		b := bills[a.BillID]
		k := creditKey{control: b.ControlAccountID}
		if b.FundID != nil {
			k.fund = *b.FundID
		}
		add(k, b.FundID, a.Amount)
	}
	if p.Unallocated > 0 {
		add(creditKey{control: *p.UnallocatedControlAccountID}, nil, p.Unallocated)
	}
	lines := make([]journals.PostingLineInput, 0, 2*len(keys))
	for _, k := range keys {
		lines = append(lines,
			journals.PostingLineInput{AccountID: p.CashAccountID, FundID: funds[k], Debit: amounts[k], Description: memo},
			journals.PostingLineInput{AccountID: k.control, FundID: funds[k], Credit: amounts[k], Description: memo},
		)
	}
	id := p.ID
	return journals.PostingInput{
		Date:       p.Date.Time,
		Memo:       memo,
		SourceType: shared.SourceARPayment,
		SourceID:   &id,
		PostedBy:   actorID,
		Lines:      lines,
	}
}

// controlAccount resolves code, or the AR/ar.control mapping when empty,
// and checks it is an AR control account.
func (s *Service) controlAccount(ctx context.Context, code string) (accounts.Account, error) {
	account, err := s.resolve(ctx, code, mappings.KeyARControl)
	if err != nil {
		return accounts.Account{}, err
	}
	if !account.IsControl || account.ControlOwner != shared.OwnerAR {
		return accounts.Account{}, shared.Invalid("control_account", fmt.Sprintf("%s is not an AR control account", account.Code))
	}
	return account, nil
}

func (s *Service) resolve(ctx context.Context, code, key string) (accounts.Account, error) {
	if code = strings.TrimSpace(code); code != "" {
		return s.accounts.ResolveForPosting(ctx, 0, code)
	}
	return s.mappings.Resolve(ctx, mappings.ModuleAR, key)
}

// GetBill returns one bill.
func (s *Service) GetBill(ctx context.Context, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, id, false)
}

// ListBills returns bills for a student, or all bills when studentID is 0.
func (s *Service) ListBills(ctx context.Context, studentID int64) ([]Bill, error) {
	return s.repo.ListBills(ctx, studentID)
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns payments for a student, or all when studentID is 0.
func (s *Service) ListPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, studentID)
}

// SubledgerTotal returns billed minus applied on a control account for
// documents dated within [from, to].
func (s *Service) SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error) {
	return s.repo.SubledgerTotal(ctx, controlAccountID, shared.Day(from), shared.Day(to))
}

// StudentSources lists the bill and payment ids of a student.
func (s *Service) StudentSources(ctx context.Context, studentID int64) (billIDs, paymentIDs []int64, err error) {
	bills, err := s.repo.ListBills(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.repo.ListPayments(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range bills {
		billIDs = append(billIDs, b.ID)
	}
	for _, p := range payments {
		paymentIDs = append(paymentIDs, p.ID)
	}
	return billIDs, paymentIDs, nil
}

// Aging groups outstanding bill amounts by days past due as of asOf. Bills
// without a due date age from the bill date.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	bills, err := s.repo.ListBills(ctx, 0)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = shared.Day(asOf)
	var bucket AgingBucket
	for _, b := range bills {
		if b.Status == BillStatusPaid || b.Date.After(asOf) {
			continue
		}
		due := b.DueDate
		if due.IsZero() {
			due = b.Date
		}
		days := int(asOf.Sub(due.Time).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current += b.Outstanding
		case days <= 30:
			bucket.Bucket30 += b.Outstanding
		case days <= 60:
			bucket.Bucket60 += b.Outstanding
		case days <= 90:
			bucket.Bucket90 += b.Outstanding
		default:
			bucket.Bucket120 += b.Outstanding
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
