package mappings

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists account mappings.
type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, m AccountMapping) error
	List(ctx context.Context) ([]AccountMapping, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	var mapping AccountMapping
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT module, key, account_id, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, module, key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return AccountMapping{}, shared.NotFound("account mapping", module+"/"+key)
		}
		return AccountMapping{}, shared.Storage("get mapping", err)
	}
	return mapping, nil
}

func (r *repository) Upsert(ctx context.Context, m AccountMapping) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO account_mappings (module, key, account_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (module, key) DO UPDATE SET account_id = EXCLUDED.account_id, updated_at = EXCLUDED.updated_at`,
		m.Module, m.Key, m.AccountID, m.UpdatedAt)
	if db.ForeignKeyViolation(err) {
		return shared.Invalid("account", "does not exist")
	}
	return shared.Storage("upsert mapping", err)
}

func (r *repository) List(ctx context.Context) ([]AccountMapping, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT module, key, account_id, created_at, updated_at FROM account_mappings ORDER BY module, key`)
	if err != nil {
		return nil, shared.Storage("list mappings", err)
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.Module, &m.Key, &m.AccountID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, shared.Storage("scan mapping", err)
		}
		out = append(out, m)
	}
	return out, shared.Storage("list mappings", rows.Err())
}
