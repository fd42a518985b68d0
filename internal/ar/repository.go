package ar

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes AR persistence. Implementations join the
// transaction carried by ctx.
type TxRepository interface {
	InsertBill(ctx context.Context, bill Bill) (Bill, error)
	// UpdateBill stores outstanding, status, journal link and line
	// allocations.
	UpdateBill(ctx context.Context, bill Bill) error
	GetBill(ctx context.Context, id int64, forUpdate bool) (Bill, error)
	FindBillByKey(ctx context.Context, key string) (Bill, error)
	ListBills(ctx context.Context, studentID int64) ([]Bill, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error
	GetPayment(ctx context.Context, id int64) (Payment, error)
	FindPaymentByKey(ctx context.Context, key string) (Payment, error)
	ListPayments(ctx context.Context, studentID int64) ([]Payment, error)
	// SubledgerTotal is billed minus applied for a control account over
	// [from, to].
	SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error)
}

// Repository adds transaction control.
type Repository interface {
	TxRepository
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(d shared.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time
}

func (r *repository) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO ar_bills (student_id, bill_date, due_date, memo, fund_id, control_account_id, total, outstanding, status, idempotency_key, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		b.StudentID, b.Date.Time, nullDate(b.DueDate), b.Memo, b.FundID, b.ControlAccountID, b.Total, b.Outstanding, b.Status,
		nullString(b.IdempotencyKey), b.CreatedBy, b.CreatedAt).Scan(&b.ID)
	if err != nil {
		if db.UniqueViolation(err, "uq_ar_bills_idempotency") {
			return Bill{}, &shared.ConflictError{Reason: "bill with this idempotency key is being recorded"}
		}
		return Bill{}, shared.Storage("insert bill", err)
	}
	for i := range b.Lines {
		line := &b.Lines[i]
		line.BillID = b.ID
		if err := conn.QueryRow(ctx, `INSERT INTO ar_bill_lines (bill_id, description, income_account_id, amount, allocated) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			b.ID, line.Description, line.IncomeAccountID, line.Amount, line.Allocated).Scan(&line.ID); err != nil {
			return Bill{}, shared.Storage("insert bill line", err)
		}
	}
	return b, nil
}

func (r *repository) UpdateBill(ctx context.Context, b Bill) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `UPDATE ar_bills SET outstanding=$2, status=$3, journal_entry_id=NULLIF($4, 0) WHERE id=$1`,
		b.ID, b.Outstanding, b.Status, b.JournalEntryID); err != nil {
		return shared.Storage("update bill", err)
	}
	for _, line := range b.Lines {
		if _, err := conn.Exec(ctx, `UPDATE ar_bill_lines SET allocated=$2 WHERE id=$1`, line.ID, line.Allocated); err != nil {
			return shared.Storage("update bill line", err)
		}
	}
	return nil
}

const billColumns = `id, student_id, bill_date, due_date, memo, fund_id, control_account_id, total, outstanding, status, COALESCE(journal_entry_id, 0), COALESCE(idempotency_key, ''), created_by, created_at`

func scanBill(row pgx.Row) (Bill, error) {
	var (
		b       Bill
		date    time.Time
		dueDate *time.Time
	)
	err := row.Scan(&b.ID, &b.StudentID, &date, &dueDate, &b.Memo, &b.FundID, &b.ControlAccountID, &b.Total, &b.Outstanding, &b.Status,
		&b.JournalEntryID, &b.IdempotencyKey, &b.CreatedBy, &b.CreatedAt)
	b.Date = shared.NewDate(date)
	if dueDate != nil {
		b.DueDate = shared.NewDate(*dueDate)
	}
	return b, err
}

func (r *repository) queryBills(ctx context.Context, where string, args ...any) ([]Bill, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, `SELECT `+billColumns+` FROM ar_bills WHERE `+where, args...)
	if err != nil {
		return nil, shared.Storage("query bills", err)
	}
	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			rows.Close()
			return nil, shared.Storage("scan bill", err)
		}
		bills = append(bills, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("iterate bills", err)
	}
	for i := range bills {
		lines, err := conn.Query(ctx, `SELECT id, bill_id, description, income_account_id, amount, allocated FROM ar_bill_lines WHERE bill_id=$1 ORDER BY id`, bills[i].ID)
		if err != nil {
			return nil, shared.Storage("query bill lines", err)
		}
		for lines.Next() {
			var l BillLine
			if err := lines.Scan(&l.ID, &l.BillID, &l.Description, &l.IncomeAccountID, &l.Amount, &l.Allocated); err != nil {
				lines.Close()
				return nil, shared.Storage("scan bill line", err)
			}
			bills[i].Lines = append(bills[i].Lines, l)
		}
		lines.Close()
		if err := lines.Err(); err != nil {
			return nil, shared.Storage("iterate bill lines", err)
		}
	}
	return bills, nil
}

func (r *repository) oneBill(ctx context.Context, key any, where string, args ...any) (Bill, error) {
	bills, err := r.queryBills(ctx, where, args...)
	if err != nil {
		return Bill{}, err
	}
	if len(bills) == 0 {
		return Bill{}, shared.NotFound("bill", key)
	}
	return bills[0], nil
}

func (r *repository) GetBill(ctx context.Context, id int64, forUpdate bool) (Bill, error) {
	where := "id=$1"
	if forUpdate {
		where += " FOR UPDATE"
	}
	return r.oneBill(ctx, id, where, id)
}

func (r *repository) FindBillByKey(ctx context.Context, key string) (Bill, error) {
	return r.oneBill(ctx, key, "idempotency_key=$1", key)
}

func (r *repository) ListBills(ctx context.Context, studentID int64) ([]Bill, error) {
	if studentID == 0 {
		return r.queryBills(ctx, "TRUE ORDER BY bill_date, id")
	}
	return r.queryBills(ctx, "student_id=$1 ORDER BY bill_date, id", studentID)
}

func (r *repository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO ar_payments (student_id, payment_date, amount, method, reference, cash_account_id, unallocated, unallocated_control_account_id, idempotency_key, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		p.StudentID, p.Date.Time, p.Amount, p.Method, p.Reference, p.CashAccountID, p.Unallocated, p.UnallocatedControlAccountID,
		nullString(p.IdempotencyKey), p.CreatedBy, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		if db.UniqueViolation(err, "uq_ar_payments_idempotency") {
			return Payment{}, &shared.ConflictError{Reason: "payment with this idempotency key is being recorded"}
		}
		return Payment{}, shared.Storage("insert payment", err)
	}
	for i := range p.Allocations {
		a := &p.Allocations[i]
		a.PaymentID = p.ID
		if err := conn.QueryRow(ctx, `INSERT INTO ar_allocations (payment_id, bill_id, line_item_id, amount) VALUES ($1,$2,$3,$4) RETURNING id`,
			p.ID, a.BillID, a.LineItemID, a.Amount).Scan(&a.ID); err != nil {
			return Payment{}, shared.Storage("insert allocation", err)
		}
	}
	return p, nil
}

func (r *repository) SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE ar_payments SET journal_entry_id=$2 WHERE id=$1`, paymentID, entryID)
	return shared.Storage("link payment journal", err)
}

const paymentColumns = `id, student_id, payment_date, amount, method, reference, cash_account_id, unallocated, unallocated_control_account_id, COALESCE(journal_entry_id, 0), COALESCE(idempotency_key, ''), created_by, created_at`

func (r *repository) queryPayments(ctx context.Context, where string, args ...any) ([]Payment, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, `SELECT `+paymentColumns+` FROM ar_payments WHERE `+where, args...)
	if err != nil {
		return nil, shared.Storage("query payments", err)
	}
	var payments []Payment
	for rows.Next() {
		var (
			p    Payment
			date time.Time
		)
		if err := rows.Scan(&p.ID, &p.StudentID, &date, &p.Amount, &p.Method, &p.Reference, &p.CashAccountID, &p.Unallocated,
			&p.UnallocatedControlAccountID, &p.JournalEntryID, &p.IdempotencyKey, &p.CreatedBy, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, shared.Storage("scan payment", err)
		}
		p.Date = shared.NewDate(date)
		payments = append(payments, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("iterate payments", err)
	}
	for i := range payments {
		allocs, err := conn.Query(ctx, `SELECT id, payment_id, bill_id, line_item_id, amount FROM ar_allocations WHERE payment_id=$1 ORDER BY id`, payments[i].ID)
		if err != nil {
			return nil, shared.Storage("query allocations", err)
		}
		for allocs.Next() {
			var a Allocation
			if err := allocs.Scan(&a.ID, &a.PaymentID, &a.BillID, &a.LineItemID, &a.Amount); err != nil {
				allocs.Close()
				return nil, shared.Storage("scan allocation", err)
			}
			payments[i].Allocations = append(payments[i].Allocations, a)
		}
		allocs.Close()
		if err := allocs.Err(); err != nil {
			return nil, shared.Storage("iterate allocations", err)
		}
	}
	return payments, nil
}

func (r *repository) onePayment(ctx context.Context, key any, where string, args ...any) (Payment, error) {
	payments, err := r.queryPayments(ctx, where, args...)
	if err != nil {
		return Payment{}, err
	}
	if len(payments) == 0 {
		return Payment{}, shared.NotFound("payment", key)
	}
	return payments[0], nil
}

func (r *repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return r.onePayment(ctx, id, "id=$1", id)
}

func (r *repository) FindPaymentByKey(ctx context.Context, key string) (Payment, error) {
	return r.onePayment(ctx, key, "idempotency_key=$1", key)
}

func (r *repository) ListPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	if studentID == 0 {
		return r.queryPayments(ctx, "TRUE ORDER BY payment_date, id")
	}
	return r.queryPayments(ctx, "student_id=$1 ORDER BY payment_date, id", studentID)
}

func (r *repository) SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error) {
	var total int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT
  COALESCE((SELECT SUM(total) FROM ar_bills WHERE control_account_id=$1 AND bill_date BETWEEN $2 AND $3), 0)
- COALESCE((SELECT SUM(a.amount) FROM ar_allocations a
     JOIN ar_payments p ON p.id = a.payment_id
     JOIN ar_bills b ON b.id = a.bill_id
     WHERE b.control_account_id=$1 AND p.payment_date BETWEEN $2 AND $3), 0)
- COALESCE((SELECT SUM(unallocated) FROM ar_payments WHERE unallocated_control_account_id=$1 AND payment_date BETWEEN $2 AND $3), 0)`,
		controlAccountID, from, to).Scan(&total)
	return total, shared.Storage("ar subledger total", err)
}
