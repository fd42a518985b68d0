package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Name  string
	Items []int
}

func cloneRow(r row) row {
	r.Items = append([]int(nil), r.Items...)
	return r
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := New()
	table := NewTable(store, cloneRow)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context) error {
		table.Put(1, row{Name: "kept", Items: []int{1}})
		return nil
	}))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context) error {
		table.Put(2, row{Name: "discarded"})
		table.Put(1, row{Name: "changed"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	release := store.Acquire(ctx)
	defer release()
	assert.Equal(t, 1, table.Len())
	got, ok := table.Get(1)
	require.True(t, ok)
	assert.Equal(t, "kept", got.Name)
}

func TestNestedWithTxJoinsOuter(t *testing.T) {
	store := New()
	table := NewTable[row](store, nil)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context) error {
		table.Put(1, row{Name: "outer"})
		if err := store.WithTx(ctx, func(ctx context.Context) error {
			table.Put(2, row{Name: "inner"})
			return nil
		}); err != nil {
			return err
		}
		return errors.New("fail after inner")
	})
	require.Error(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestClonePreventsAliasing(t *testing.T) {
	store := New()
	table := NewTable(store, cloneRow)
	items := []int{1, 2}
	table.Put(1, row{Items: items})
	items[0] = 99
	got, _ := table.Get(1)
	assert.Equal(t, []int{1, 2}, got.Items)
}

func TestNextIDIsMonotonicUnderConcurrency(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	seen := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- store.NextID("entries")
		}()
	}
	wg.Wait()
	close(seen)
	unique := map[int64]bool{}
	for id := range seen {
		unique[id] = true
	}
	assert.Len(t, unique, 100)
	assert.Equal(t, int64(101), store.NextID("entries"))
}
