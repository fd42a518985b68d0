package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTx stands in for pgx.Tx and logs savepoint traffic.
type recordingTx struct {
	pgx.Tx
	name string
	log  *[]string
}

func (r *recordingTx) Begin(ctx context.Context) (pgx.Tx, error) {
	*r.log = append(*r.log, r.name+" begin")
	return &recordingTx{name: r.name + "/sp", log: r.log}, nil
}

func (r *recordingTx) Commit(ctx context.Context) error {
	*r.log = append(*r.log, r.name+" commit")
	return nil
}

func (r *recordingTx) Rollback(ctx context.Context) error {
	*r.log = append(*r.log, r.name+" rollback")
	return nil
}

func TestSavepointRollsBackOnlyTheInnerWork(t *testing.T) {
	var log []string
	outer := &recordingTx{name: "outer", log: &log}
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(outer))
	duplicate := errors.New("duplicate key")

	err := Savepoint(ctx, func(ctx context.Context) error {
		tx, ok := TxFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "outer/sp", tx.(*recordingTx).name)
		return duplicate
	})
	assert.ErrorIs(t, err, duplicate)
	assert.Equal(t, []string{"outer begin", "outer/sp rollback"}, log)

	log = nil
	require.NoError(t, Savepoint(ctx, func(ctx context.Context) error { return nil }))
	assert.Equal(t, []string{"outer begin", "outer/sp commit"}, log)
}

func TestSavepointWithoutTransaction(t *testing.T) {
	var called bool
	err := Savepoint(context.Background(), func(ctx context.Context) error {
		_, ok := TxFromContext(ctx)
		assert.False(t, ok)
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
