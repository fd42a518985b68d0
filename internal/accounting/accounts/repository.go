package accounts

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes account and fund persistence. Implementations join the
// transaction carried by ctx.
type TxRepository interface {
	InsertAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, a Account) error
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	GetAccountByID(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	CountChildren(ctx context.Context, id int64) (int, error)
	InsertFund(ctx context.Context, f Fund) (Fund, error)
	UpdateFund(ctx context.Context, f Fund) error
	GetFund(ctx context.Context, id int64) (Fund, error)
	ListFunds(ctx context.Context) ([]Fund, error)
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

const accountColumns = `id, code, name, type, normal_balance, fund_id, parent_id, is_control, control_owner, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.FundID, &a.ParentID, &a.IsControl, &a.ControlOwner, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO accounts (code, name, type, normal_balance, fund_id, parent_id, is_control, control_owner, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`, a.Code, a.Name, a.Type, a.NormalBalance, a.FundID, a.ParentID, a.IsControl, a.ControlOwner, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err := row.Scan(&a.ID); err != nil {
		if db.UniqueViolation(err, "uq_accounts_code") {
			return Account{}, &shared.DuplicateCodeError{Code: a.Code}
		}
		return Account{}, shared.Storage("insert account", err)
	}
	return a, nil
}

func (r *repository) UpdateAccount(ctx context.Context, a Account) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE accounts SET name=$2, is_active=$3, updated_at=$4 WHERE id=$1`, a.ID, a.Name, a.IsActive, a.UpdatedAt)
	return shared.Storage("update account", err)
}

func (r *repository) DeleteAccount(ctx context.Context, a Account) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM accounts WHERE id=$1`, a.ID)
	if db.ForeignKeyViolation(err) {
		return &shared.AccountInUseError{Code: a.Code}
	}
	return shared.Storage("delete account", err)
}

func (r *repository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if err != nil {
		if db.IsNoRows(err) {
			return Account{}, shared.NotFound("account", code)
		}
		return Account{}, shared.Storage("get account", err)
	}
	return a, nil
}

func (r *repository) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Account{}, shared.NotFound("account", id)
		}
		return Account{}, shared.Storage("get account", err)
	}
	return a, nil
}

func (r *repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, shared.Storage("list accounts", err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, shared.Storage("scan account", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, shared.Storage("list accounts", rows.Err())
}

func (r *repository) CountChildren(ctx context.Context, id int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id=$1`, id).Scan(&n)
	return n, shared.Storage("count child accounts", err)
}

func (r *repository) InsertFund(ctx context.Context, f Fund) (Fund, error) {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO funds (name, restriction_type, is_active, created_at, updated_at) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		f.Name, f.RestrictionType, f.IsActive, f.CreatedAt, f.UpdatedAt).Scan(&f.ID)
	if err != nil {
		if db.UniqueViolation(err, "") {
			return Fund{}, shared.Invalid("name", "fund already exists")
		}
		return Fund{}, shared.Storage("insert fund", err)
	}
	return f, nil
}

func (r *repository) UpdateFund(ctx context.Context, f Fund) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE funds SET is_active=$2, updated_at=$3 WHERE id=$1`, f.ID, f.IsActive, f.UpdatedAt)
	return shared.Storage("update fund", err)
}

func (r *repository) GetFund(ctx context.Context, id int64) (Fund, error) {
	var f Fund
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name, restriction_type, is_active, created_at, updated_at FROM funds WHERE id=$1`, id).
		Scan(&f.ID, &f.Name, &f.RestrictionType, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Fund{}, shared.NotFound("fund", id)
		}
		return Fund{}, shared.Storage("get fund", err)
	}
	return f, nil
}

func (r *repository) ListFunds(ctx context.Context) ([]Fund, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, name, restriction_type, is_active, created_at, updated_at FROM funds ORDER BY id`)
	if err != nil {
		return nil, shared.Storage("list funds", err)
	}
	defer rows.Close()
	var funds []Fund
	for rows.Next() {
		var f Fund
		if err := rows.Scan(&f.ID, &f.Name, &f.RestrictionType, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, shared.Storage("scan fund", err)
		}
		funds = append(funds, f)
	}
	return funds, shared.Storage("list funds", rows.Err())
}
