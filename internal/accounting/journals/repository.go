package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// errDuplicateKey reports a concurrent insert with the same idempotency key.
var errDuplicateKey = errors.New("journals: duplicate idempotency key")

// TxRepository exposes journal persistence. Implementations join the
// transaction carried by ctx.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error)
	FindReversal(ctx context.Context, id int64) (JournalEntry, error)
	ListEntries(ctx context.Context, filter Filter) ([]JournalEntry, error)
	ApplyBalances(ctx context.Context, deltas []Balance) error
	SumActivity(ctx context.Context, accountID, periodID int64) (Activity, error)
	// SumJournal aggregates lines per (account, fund, period). periodID 0
	// covers every period.
	SumJournal(ctx context.Context, periodID int64) ([]Balance, error)
	ListBalances(ctx context.Context) ([]Balance, error)
	ReplaceBalances(ctx context.Context, rows []Balance) error
	HasPostings(ctx context.Context, accountID int64) (bool, error)
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

const entryColumns = `id, sequence, period_id, entry_date, memo, source_type, source_id, reversal_of, COALESCE(idempotency_key, ''), posted_by, posted_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e    JournalEntry
		date time.Time
	)
	err := row.Scan(&e.ID, &e.Sequence, &e.PeriodID, &date, &e.Memo, &e.SourceType, &e.SourceID, &e.ReversalOf, &e.IdempotencyKey, &e.PostedBy, &e.PostedAt)
	e.Date = shared.NewDate(date)
	return e, err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *repository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	// A unique violation aborts the statement; the savepoint keeps the
	// caller's transaction usable for the replay lookup.
	err := db.Savepoint(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		err := conn.QueryRow(ctx, `INSERT INTO journal_entries (period_id, entry_date, memo, source_type, source_id, reversal_of, idempotency_key, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, sequence`,
			e.PeriodID, e.Date.Time, e.Memo, e.SourceType, e.SourceID, e.ReversalOf, nullString(e.IdempotencyKey), e.PostedBy, e.PostedAt).
			Scan(&e.ID, &e.Sequence)
		if err != nil {
			switch {
			case db.UniqueViolation(err, "uq_journal_entries_idempotency"):
				return errDuplicateKey
			case db.UniqueViolation(err, "uq_journal_entries_reversal"):
				return &shared.ConflictError{Reason: "entry already reversed"}
			}
			return shared.Storage("insert journal entry", err)
		}
		for i := range e.Lines {
			line := &e.Lines[i]
			line.EntryID = e.ID
			if err := conn.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, fund_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, e.ID, line.LineNo, line.AccountID, line.FundID, line.Debit, line.Credit, line.Description).Scan(&line.ID); err != nil {
				return shared.Storage("insert journal line", err)
			}
		}
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *repository) loadLines(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, len(entries))
	index := make(map[int64]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		index[e.ID] = i
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, entry_id, line_no, account_id, fund_id, debit, credit, description
FROM journal_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, ids)
	if err != nil {
		return shared.Storage("query journal lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.FundID, &l.Debit, &l.Credit, &l.Description); err != nil {
			return shared.Storage("scan journal line", err)
		}
		i := index[l.EntryID]
		entries[i].Lines = append(entries[i].Lines, l)
	}
	return shared.Storage("iterate journal lines", rows.Err())
}

func (r *repository) getOne(ctx context.Context, where string, arg any, key any) (JournalEntry, error) {
	e, err := scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE `+where, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return JournalEntry{}, shared.NotFound("journal entry", key)
		}
		return JournalEntry{}, shared.Storage("get journal entry", err)
	}
	entries := []JournalEntry{e}
	if err := r.loadLines(ctx, entries); err != nil {
		return JournalEntry{}, err
	}
	return entries[0], nil
}

func (r *repository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getOne(ctx, "id=$1", id, id)
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error) {
	return r.getOne(ctx, "idempotency_key=$1", key, key)
}

func (r *repository) FindReversal(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getOne(ctx, "reversal_of=$1", id, fmt.Sprintf("reversal of %d", id))
}

func (r *repository) ListEntries(ctx context.Context, f Filter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PeriodID != 0 {
		add("period_id = $%d", f.PeriodID)
	}
	if f.SourceType != "" {
		add("source_type = $%d", f.SourceType)
	}
	if len(f.SourceIDs) > 0 {
		add("source_id = ANY($%d)", f.SourceIDs)
	}
	if f.From != nil {
		add("entry_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("entry_date <= $%d", *f.To)
	}
	if f.AccountID != 0 {
		add("id IN (SELECT entry_id FROM journal_lines WHERE account_id = $%d)", f.AccountID)
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY entry_date, sequence"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("query journal entries", err)
	}
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, shared.Storage("scan journal entry", err)
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("iterate journal entries", err)
	}
	if err := r.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyBalances upserts projection deltas. ON CONFLICT takes the row lock
// that serializes concurrent postings to the same account.
func (r *repository) ApplyBalances(ctx context.Context, deltas []Balance) error {
	conn := db.Conn(ctx, r.pool)
	for _, d := range deltas {
		if _, err := conn.Exec(ctx, `INSERT INTO account_balances (account_id, fund_id, period_id, debit, credit, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (account_id, fund_id, period_id) DO UPDATE
SET debit = account_balances.debit + EXCLUDED.debit,
    credit = account_balances.credit + EXCLUDED.credit,
    updated_at = NOW()`, d.AccountID, d.FundID, d.PeriodID, d.Debit, d.Credit); err != nil {
			return shared.Storage("apply balance", err)
		}
	}
	return nil
}

func (r *repository) SumActivity(ctx context.Context, accountID, periodID int64) (Activity, error) {
	a := Activity{AccountID: accountID, PeriodID: periodID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = $1 AND e.period_id = $2`, accountID, periodID).Scan(&a.Debit, &a.Credit)
	return a, shared.Storage("sum activity", err)
}

func (r *repository) SumJournal(ctx context.Context, periodID int64) ([]Balance, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT l.account_id, COALESCE(l.fund_id, 0), e.period_id, SUM(l.debit), SUM(l.credit)
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE $1 = 0 OR e.period_id = $1
GROUP BY l.account_id, COALESCE(l.fund_id, 0), e.period_id
ORDER BY e.period_id, l.account_id, 2`, periodID)
	if err != nil {
		return nil, shared.Storage("sum journal", err)
	}
	return collectBalances(rows)
}

func (r *repository) ListBalances(ctx context.Context) ([]Balance, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT account_id, fund_id, period_id, debit, credit FROM account_balances ORDER BY period_id, account_id, fund_id`)
	if err != nil {
		return nil, shared.Storage("list balances", err)
	}
	return collectBalances(rows)
}

func collectBalances(rows pgx.Rows) ([]Balance, error) {
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.AccountID, &b.FundID, &b.PeriodID, &b.Debit, &b.Credit); err != nil {
			return nil, shared.Storage("scan balance", err)
		}
		out = append(out, b)
	}
	return out, shared.Storage("iterate balances", rows.Err())
}

func (r *repository) ReplaceBalances(ctx context.Context, rows []Balance) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM account_balances`); err != nil {
		return shared.Storage("clear balances", err)
	}
	if len(rows) == 0 {
		return nil
	}
	data := make([][]any, 0, len(rows))
	now := time.Now()
	for _, b := range rows {
		data = append(data, []any{b.AccountID, b.FundID, b.PeriodID, b.Debit, b.Credit, now})
	}
	tx, ok := db.TxFromContext(ctx)
	if !ok {
		return shared.Storage("rebuild balances", errors.New("transaction required"))
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"account_balances"},
		[]string{"account_id", "fund_id", "period_id", "debit", "credit", "updated_at"}, pgx.CopyFromRows(data))
	return shared.Storage("copy balances", err)
}

func (r *repository) HasPostings(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`, accountID).Scan(&exists)
	return exists, shared.Storage("check postings", err)
}
