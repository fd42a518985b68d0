package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres audit repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Insert(ctx context.Context, log Log) (int64, error) {
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, old_values, new_values, meta, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, log.ActorID, log.Action, log.Entity, log.EntityID, nullJSON(log.Old), nullJSON(log.New), metaJSON, log.At).Scan(&id)
	if err != nil {
		return 0, shared.Storage("insert audit log", err)
	}
	return id, nil
}

func (r *pgRepository) Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]Log, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	if f.ActorID != 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	query := `SELECT id, actor_id, action, entity, entity_id, old_values, new_values, meta, occurred_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("query audit logs", err)
	}
	defer rows.Close()
	var out []Log
	for rows.Next() {
		var (
			l        Log
			old, neu []byte
			meta     []byte
		)
		if err := rows.Scan(&l.ID, &l.ActorID, &l.Action, &l.Entity, &l.EntityID, &old, &neu, &meta, &l.At); err != nil {
			return nil, shared.Storage("scan audit log", err)
		}
		l.Old = old
		l.New = neu
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &l.Meta)
		}
		out = append(out, l)
	}
	return out, shared.Storage("iterate audit logs", rows.Err())
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
