package reconciliation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository persists reconciliation records. Implementations join the
// transaction carried by ctx.
type TxRepository interface {
	Insert(ctx context.Context, rec GlReconciliation) (GlReconciliation, error)
	// Resolve stores the resolution fields of rec.
	Resolve(ctx context.Context, rec GlReconciliation) error
	Get(ctx context.Context, id int64, forUpdate bool) (GlReconciliation, error)
	// Latest returns the newest record for the period and control account.
	Latest(ctx context.Context, periodID, controlAccountID int64) (GlReconciliation, error)
	List(ctx context.Context, periodID int64) ([]GlReconciliation, error)
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

const columns = `id, period_id, control_account_id, subledger_total, gl_balance, difference, status, resolved_by, resolved_at, notes, adjustment_entry_id, created_by, created_at`

func scan(row pgx.Row) (GlReconciliation, error) {
	var rec GlReconciliation
	err := row.Scan(&rec.ID, &rec.PeriodID, &rec.ControlAccountID, &rec.SubledgerTotal, &rec.GLBalance, &rec.Difference,
		&rec.Status, &rec.ResolvedBy, &rec.ResolvedAt, &rec.Notes, &rec.AdjustmentEntryID, &rec.CreatedBy, &rec.CreatedAt)
	return rec, err
}

func (r *repository) Insert(ctx context.Context, rec GlReconciliation) (GlReconciliation, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO gl_reconciliations (period_id, control_account_id, subledger_total, gl_balance, difference, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		rec.PeriodID, rec.ControlAccountID, rec.SubledgerTotal, rec.GLBalance, rec.Difference, rec.Status, rec.Notes, rec.CreatedBy, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return GlReconciliation{}, shared.Storage("insert reconciliation", err)
	}
	return rec, nil
}

func (r *repository) Resolve(ctx context.Context, rec GlReconciliation) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE gl_reconciliations SET status=$2, resolved_by=$3, resolved_at=$4, notes=$5, adjustment_entry_id=$6 WHERE id=$1`,
		rec.ID, rec.Status, rec.ResolvedBy, rec.ResolvedAt, rec.Notes, rec.AdjustmentEntryID)
	if err != nil {
		return shared.Storage("resolve reconciliation", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("reconciliation", rec.ID)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64, forUpdate bool) (GlReconciliation, error) {
	query := `SELECT ` + columns + ` FROM gl_reconciliations WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scan(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return GlReconciliation{}, shared.NotFound("reconciliation", id)
		}
		return GlReconciliation{}, shared.Storage("get reconciliation", err)
	}
	return rec, nil
}

func (r *repository) Latest(ctx context.Context, periodID, controlAccountID int64) (GlReconciliation, error) {
	rec, err := scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+columns+` FROM gl_reconciliations
WHERE period_id=$1 AND control_account_id=$2 ORDER BY id DESC LIMIT 1`, periodID, controlAccountID))
	if err != nil {
		if db.IsNoRows(err) {
			return GlReconciliation{}, shared.NotFound("reconciliation", periodID)
		}
		return GlReconciliation{}, shared.Storage("latest reconciliation", err)
	}
	return rec, nil
}

func (r *repository) List(ctx context.Context, periodID int64) ([]GlReconciliation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+columns+` FROM gl_reconciliations
WHERE ($1 = 0 OR period_id = $1) ORDER BY id`, periodID)
	if err != nil {
		return nil, shared.Storage("list reconciliations", err)
	}
	defer rows.Close()
	var out []GlReconciliation
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, shared.Storage("scan reconciliation", err)
		}
		out = append(out, rec)
	}
	return out, shared.Storage("list reconciliations", rows.Err())
}
