package periods

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes period persistence. Implementations join the
// transaction carried by ctx.
type TxRepository interface {
	// SerializeCreate blocks concurrent period creation until the tx ends.
	SerializeCreate(ctx context.Context) error
	Insert(ctx context.Context, p Period) (Period, error)
	Update(ctx context.Context, p Period) error
	Get(ctx context.Context, id int64, mode LockMode) (Period, error)
	FindByDate(ctx context.Context, day time.Time, mode LockMode) (Period, error)
	List(ctx context.Context) ([]Period, error)
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

const (
	periodColumns      = `id, name, start_date, end_date, status, locked_by, locked_at, created_at, updated_at`
	createAdvisoryLock = 72340001
)

func lockClause(mode LockMode) string {
	switch mode {
	case LockShare:
		return " FOR SHARE"
	case LockUpdate:
		return " FOR UPDATE"
	}
	return ""
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.LockedBy, &p.LockedAt, &p.CreatedAt, &p.UpdatedAt)
	p.StartDate, p.EndDate = shared.Day(p.StartDate), shared.Day(p.EndDate)
	return p, err
}

func (r *repository) SerializeCreate(ctx context.Context) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, createAdvisoryLock)
	return shared.Storage("lock period creation", err)
}

func (r *repository) Insert(ctx context.Context, p Period) (Period, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO fiscal_periods (name, start_date, end_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, p.Name, p.StartDate, p.EndDate, p.Status, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		if db.UniqueViolation(err, "uq_fiscal_periods_name") {
			return Period{}, shared.Invalid("name", "period "+p.Name+" already exists")
		}
		return Period{}, shared.Storage("insert period", err)
	}
	return p, nil
}

func (r *repository) Update(ctx context.Context, p Period) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE fiscal_periods SET status=$2, locked_by=$3, locked_at=$4, updated_at=$5 WHERE id=$1`,
		p.ID, p.Status, p.LockedBy, p.LockedAt, p.UpdatedAt)
	return shared.Storage("update period", err)
}

func (r *repository) Get(ctx context.Context, id int64, mode LockMode) (Period, error) {
	p, err := scanPeriod(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE id=$1`+lockClause(mode), id))
	if err != nil {
		if db.IsNoRows(err) {
			return Period{}, shared.NotFound("fiscal period", id)
		}
		return Period{}, shared.Storage("get period", err)
	}
	return p, nil
}

func (r *repository) FindByDate(ctx context.Context, day time.Time, mode LockMode) (Period, error) {
	p, err := scanPeriod(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods
WHERE $1::date BETWEEN start_date AND end_date`+lockClause(mode), day))
	if err != nil {
		if db.IsNoRows(err) {
			return Period{}, shared.NotFound("fiscal period", day.Format(shared.DateLayout))
		}
		return Period{}, shared.Storage("find period", err)
	}
	return p, nil
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods ORDER BY start_date`)
	if err != nil {
		return nil, shared.Storage("list periods", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, shared.Storage("scan period", err)
		}
		out = append(out, p)
	}
	return out, shared.Storage("list periods", rows.Err())
}
