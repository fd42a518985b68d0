package ap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes AP persistence. Implementations join the transaction
// carried by ctx.
type TxRepository interface {
	InsertVendor(ctx context.Context, v Vendor) (Vendor, error)
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)

	// NextNumber returns the next document number for prefix in the month
	// of date, e.g. INV-202501-00001.
	NextNumber(ctx context.Context, prefix string, date time.Time) (string, error)

	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	// UpdateInvoice stores status, outstanding, approval and journal link.
	UpdateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id int64, forUpdate bool) (Invoice, error)
	FindInvoiceByKey(ctx context.Context, key string) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error
	GetPayment(ctx context.Context, id int64) (Payment, error)
	FindPaymentByKey(ctx context.Context, key string) (Payment, error)
	ListPayments(ctx context.Context, vendorID int64) ([]Payment, error)

	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	// UpdatePurchaseOrder stores status and received quantities.
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id int64, forUpdate bool) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, vendorID int64) ([]PurchaseOrder, error)

	// SubledgerTotal is approved invoices minus applied payments for a
	// control account over [from, to].
	SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error)
	CountDraftInvoices(ctx context.Context, from, to time.Time) (int, error)
}

// Repository adds transaction control.
type Repository interface {
	TxRepository
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*pgRepository)(nil)

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
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

func (r *pgRepository) InsertVendor(ctx context.Context, v Vendor) (Vendor, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO ap_vendors (name, email, is_active, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		v.Name, v.Email, v.IsActive, v.CreatedAt).Scan(&v.ID)
	return v, shared.Storage("insert vendor", err)
}

func (r *pgRepository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	var v Vendor
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name, email, is_active, created_at FROM ap_vendors WHERE id=$1`, id).
		Scan(&v.ID, &v.Name, &v.Email, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Vendor{}, shared.NotFound("vendor", id)
		}
		return Vendor{}, shared.Storage("get vendor", err)
	}
	return v, nil
}

func (r *pgRepository) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, name, email, is_active, created_at FROM ap_vendors ORDER BY name, id`)
	if err != nil {
		return nil, shared.Storage("list vendors", err)
	}
	defer rows.Close()
	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Email, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, shared.Storage("scan vendor", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, shared.Storage("list vendors", rows.Err())
}

// numberLockKey serializes document numbering across sessions.
const numberLockKey = 72340002

func (r *pgRepository) NextNumber(ctx context.Context, prefix string, date time.Time) (string, error) {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, numberLockKey); err != nil {
		return "", shared.Storage("lock numbering", err)
	}
	stem := fmt.Sprintf("%s-%s-", prefix, date.Format("200601"))
	table := "ap_invoices"
	if prefix == purchaseOrderPrefix {
		table = "ap_purchase_orders"
	}
	var n int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE number LIKE $1`, stem+"%").Scan(&n); err != nil {
		return "", shared.Storage("next number", err)
	}
	return fmt.Sprintf("%s%05d", stem, n+1), nil
}

func (r *pgRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO ap_invoices (vendor_id, number, invoice_date, due_date, fund_id, control_account_id, total, outstanding, status, purchase_order_id, idempotency_key, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		inv.VendorID, inv.Number, inv.Date.Time, nullDate(inv.DueDate), inv.FundID, inv.ControlAccountID, inv.Total, inv.Outstanding, inv.Status,
		inv.PurchaseOrderID, nullString(inv.IdempotencyKey), inv.CreatedBy, inv.CreatedAt).Scan(&inv.ID)
	if err != nil {
		switch {
		case db.UniqueViolation(err, "uq_ap_invoices_idempotency"):
			return Invoice{}, &shared.ConflictError{Reason: "invoice with this idempotency key is being recorded"}
		case db.UniqueViolation(err, ""):
			return Invoice{}, shared.Invalid("number", fmt.Sprintf("invoice number %s already exists", inv.Number))
		}
		return Invoice{}, shared.Storage("insert invoice", err)
	}
	for i := range inv.Lines {
		line := &inv.Lines[i]
		line.InvoiceID = inv.ID
		if err := conn.QueryRow(ctx, `INSERT INTO ap_invoice_lines (invoice_id, description, expense_account_id, amount) VALUES ($1,$2,$3,$4) RETURNING id`,
			inv.ID, line.Description, line.ExpenseAccountID, line.Amount).Scan(&line.ID); err != nil {
			return Invoice{}, shared.Storage("insert invoice line", err)
		}
	}
	return inv, nil
}

func (r *pgRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE ap_invoices SET status=$2, outstanding=$3, journal_entry_id=NULLIF($4, 0), approved_by=$5, approved_at=$6 WHERE id=$1`,
		inv.ID, inv.Status, inv.Outstanding, inv.JournalEntryID, inv.ApprovedBy, inv.ApprovedAt)
	return shared.Storage("update invoice", err)
}

const invoiceColumns = `id, vendor_id, number, invoice_date, due_date, fund_id, control_account_id, total, outstanding, status, purchase_order_id, COALESCE(journal_entry_id, 0), COALESCE(idempotency_key, ''), approved_by, approved_at, created_by, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv     Invoice
		date    time.Time
		dueDate *time.Time
	)
	err := row.Scan(&inv.ID, &inv.VendorID, &inv.Number, &date, &dueDate, &inv.FundID, &inv.ControlAccountID, &inv.Total, &inv.Outstanding,
		&inv.Status, &inv.PurchaseOrderID, &inv.JournalEntryID, &inv.IdempotencyKey, &inv.ApprovedBy, &inv.ApprovedAt, &inv.CreatedBy, &inv.CreatedAt)
	inv.Date = shared.NewDate(date)
	if dueDate != nil {
		inv.DueDate = shared.NewDate(*dueDate)
	}
	return inv, err
}

func (r *pgRepository) queryInvoices(ctx context.Context, where string, args ...any) ([]Invoice, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, `SELECT `+invoiceColumns+` FROM ap_invoices WHERE `+where, args...)
	if err != nil {
		return nil, shared.Storage("query invoices", err)
	}
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, shared.Storage("scan invoice", err)
		}
		invoices = append(invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("iterate invoices", err)
	}
	for i := range invoices {
		lines, err := conn.Query(ctx, `SELECT id, invoice_id, description, expense_account_id, amount FROM ap_invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoices[i].ID)
		if err != nil {
			return nil, shared.Storage("query invoice lines", err)
		}
		for lines.Next() {
			var l InvoiceLine
			if err := lines.Scan(&l.ID, &l.InvoiceID, &l.Description, &l.ExpenseAccountID, &l.Amount); err != nil {
				lines.Close()
				return nil, shared.Storage("scan invoice line", err)
			}
			invoices[i].Lines = append(invoices[i].Lines, l)
		}
		lines.Close()
		if err := lines.Err(); err != nil {
			return nil, shared.Storage("iterate invoice lines", err)
		}
	}
	return invoices, nil
}

func (r *pgRepository) oneInvoice(ctx context.Context, key any, where string, args ...any) (Invoice, error) {
	invoices, err := r.queryInvoices(ctx, where, args...)
	if err != nil {
		return Invoice{}, err
	}
	if len(invoices) == 0 {
		return Invoice{}, shared.NotFound("invoice", key)
	}
	return invoices[0], nil
}

func (r *pgRepository) GetInvoice(ctx context.Context, id int64, forUpdate bool) (Invoice, error) {
	where := "id=$1"
	if forUpdate {
		where += " FOR UPDATE"
	}
	return r.oneInvoice(ctx, id, where, id)
}

func (r *pgRepository) FindInvoiceByKey(ctx context.Context, key string) (Invoice, error) {
	return r.oneInvoice(ctx, key, "idempotency_key=$1", key)
}

func (r *pgRepository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return r.queryInvoices(ctx, `($1 = 0 OR vendor_id = $1) AND ($2 = '' OR status = $2) ORDER BY invoice_date, id`, filter.VendorID, string(filter.Status))
}

func (r *pgRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO ap_payments (vendor_id, payment_date, amount, reference, cash_account_id, unallocated, unallocated_control_account_id, idempotency_key, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		p.VendorID, p.Date.Time, p.Amount, p.Reference, p.CashAccountID, p.Unallocated, p.UnallocatedControlAccountID,
		nullString(p.IdempotencyKey), p.CreatedBy, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		if db.UniqueViolation(err, "uq_ap_payments_idempotency") {
			return Payment{}, &shared.ConflictError{Reason: "payment with this idempotency key is being recorded"}
		}
		return Payment{}, shared.Storage("insert payment", err)
	}
	for i := range p.Allocations {
		a := &p.Allocations[i]
		a.PaymentID = p.ID
		if err := conn.QueryRow(ctx, `INSERT INTO ap_allocations (payment_id, invoice_id, amount) VALUES ($1,$2,$3) RETURNING id`,
			p.ID, a.InvoiceID, a.Amount).Scan(&a.ID); err != nil {
			return Payment{}, shared.Storage("insert allocation", err)
		}
	}
	return p, nil
}

func (r *pgRepository) SetPaymentJournal(ctx context.Context, paymentID, entryID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE ap_payments SET journal_entry_id=$2 WHERE id=$1`, paymentID, entryID)
	return shared.Storage("link payment journal", err)
}

const paymentColumns = `id, vendor_id, payment_date, amount, reference, cash_account_id, unallocated, unallocated_control_account_id, COALESCE(journal_entry_id, 0), COALESCE(idempotency_key, ''), created_by, created_at`

func (r *pgRepository) queryPayments(ctx context.Context, where string, args ...any) ([]Payment, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, `SELECT `+paymentColumns+` FROM ap_payments WHERE `+where, args...)
	if err != nil {
		return nil, shared.Storage("query payments", err)
	}
	var payments []Payment
	for rows.Next() {
		var (
			p    Payment
			date time.Time
		)
		if err := rows.Scan(&p.ID, &p.VendorID, &date, &p.Amount, &p.Reference, &p.CashAccountID, &p.Unallocated,
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
		allocs, err := conn.Query(ctx, `SELECT id, payment_id, invoice_id, amount FROM ap_allocations WHERE payment_id=$1 ORDER BY id`, payments[i].ID)
		if err != nil {
			return nil, shared.Storage("query allocations", err)
		}
		for allocs.Next() {
			var a Allocation
			if err := allocs.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount); err != nil {
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

func (r *pgRepository) onePayment(ctx context.Context, key any, where string, args ...any) (Payment, error) {
	payments, err := r.queryPayments(ctx, where, args...)
	if err != nil {
		return Payment{}, err
	}
	if len(payments) == 0 {
		return Payment{}, shared.NotFound("payment", key)
	}
	return payments[0], nil
}

func (r *pgRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return r.onePayment(ctx, id, "id=$1", id)
}

func (r *pgRepository) FindPaymentByKey(ctx context.Context, key string) (Payment, error) {
	return r.onePayment(ctx, key, "idempotency_key=$1", key)
}

func (r *pgRepository) ListPayments(ctx context.Context, vendorID int64) ([]Payment, error) {
	return r.queryPayments(ctx, "($1 = 0 OR vendor_id = $1) ORDER BY payment_date, id", vendorID)
}

func (r *pgRepository) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO ap_purchase_orders (vendor_id, number, order_date, fund_id, status, created_by, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		po.VendorID, po.Number, po.Date.Time, po.FundID, po.Status, po.CreatedBy, po.CreatedAt).Scan(&po.ID)
	if err != nil {
		return PurchaseOrder{}, shared.Storage("insert purchase order", err)
	}
	for i := range po.Lines {
		line := &po.Lines[i]
		line.PurchaseOrderID = po.ID
		if err := conn.QueryRow(ctx, `INSERT INTO ap_purchase_order_lines (purchase_order_id, description, expense_account_id, quantity, unit_cost, received_quantity) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			po.ID, line.Description, line.ExpenseAccountID, line.Quantity, line.UnitCost, line.ReceivedQuantity).Scan(&line.ID); err != nil {
			return PurchaseOrder{}, shared.Storage("insert purchase order line", err)
		}
	}
	return po, nil
}

func (r *pgRepository) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `UPDATE ap_purchase_orders SET status=$2 WHERE id=$1`, po.ID, po.Status); err != nil {
		return shared.Storage("update purchase order", err)
	}
	batch := &pgx.Batch{}
	for _, line := range po.Lines {
		batch.Queue(`UPDATE ap_purchase_order_lines SET received_quantity=$2 WHERE id=$1`, line.ID, line.ReceivedQuantity)
	}
	return shared.Storage("update purchase order lines", conn.SendBatch(ctx, batch).Close())
}

func (r *pgRepository) queryPurchaseOrders(ctx context.Context, where string, args ...any) ([]PurchaseOrder, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, `SELECT id, vendor_id, number, order_date, fund_id, status, created_by, created_at FROM ap_purchase_orders WHERE `+where, args...)
	if err != nil {
		return nil, shared.Storage("query purchase orders", err)
	}
	var orders []PurchaseOrder
	for rows.Next() {
		var (
			po   PurchaseOrder
			date time.Time
		)
		if err := rows.Scan(&po.ID, &po.VendorID, &po.Number, &date, &po.FundID, &po.Status, &po.CreatedBy, &po.CreatedAt); err != nil {
			rows.Close()
			return nil, shared.Storage("scan purchase order", err)
		}
		po.Date = shared.NewDate(date)
		orders = append(orders, po)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("iterate purchase orders", err)
	}
	for i := range orders {
		lines, err := conn.Query(ctx, `SELECT id, purchase_order_id, description, expense_account_id, quantity, unit_cost, received_quantity FROM ap_purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`, orders[i].ID)
		if err != nil {
			return nil, shared.Storage("query purchase order lines", err)
		}
		for lines.Next() {
			var l POLine
			if err := lines.Scan(&l.ID, &l.PurchaseOrderID, &l.Description, &l.ExpenseAccountID, &l.Quantity, &l.UnitCost, &l.ReceivedQuantity); err != nil {
				lines.Close()
				return nil, shared.Storage("scan purchase order line", err)
			}
			orders[i].Lines = append(orders[i].Lines, l)
		}
		lines.Close()
		if err := lines.Err(); err != nil {
			return nil, shared.Storage("iterate purchase order lines", err)
		}
	}
	return orders, nil
}

func (r *pgRepository) GetPurchaseOrder(ctx context.Context, id int64, forUpdate bool) (PurchaseOrder, error) {
	where := "id=$1"
	if forUpdate {
		where += " FOR UPDATE"
	}
	orders, err := r.queryPurchaseOrders(ctx, where, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if len(orders) == 0 {
		return PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return orders[0], nil
}

func (r *pgRepository) ListPurchaseOrders(ctx context.Context, vendorID int64) ([]PurchaseOrder, error) {
	return r.queryPurchaseOrders(ctx, "($1 = 0 OR vendor_id = $1) ORDER BY order_date, id", vendorID)
}

func (r *pgRepository) SubledgerTotal(ctx context.Context, controlAccountID int64, from, to time.Time) (int64, error) {
	var total int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT
  COALESCE((SELECT SUM(total) FROM ap_invoices WHERE control_account_id=$1 AND status <> 'draft' AND invoice_date BETWEEN $2 AND $3), 0)
- COALESCE((SELECT SUM(a.amount) FROM ap_allocations a
     JOIN ap_payments p ON p.id = a.payment_id
     JOIN ap_invoices i ON i.id = a.invoice_id
     WHERE i.control_account_id=$1 AND p.payment_date BETWEEN $2 AND $3), 0)
- COALESCE((SELECT SUM(unallocated) FROM ap_payments WHERE unallocated_control_account_id=$1 AND payment_date BETWEEN $2 AND $3), 0)`,
		controlAccountID, from, to).Scan(&total)
	return total, shared.Storage("ap subledger total", err)
}

func (r *pgRepository) CountDraftInvoices(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM ap_invoices WHERE status='draft' AND invoice_date BETWEEN $1 AND $2`, from, to).Scan(&n)
	return n, shared.Storage("count draft invoices", err)
}
