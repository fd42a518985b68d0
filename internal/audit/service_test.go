package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

func TestServiceTimelinePaging(t *testing.T) {
	store := memstore.New()
	svc := NewService(NewMemoryRepository(store))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, Log{
			ActorID:  7,
			Action:   "period.lock",
			Entity:   "fiscal_periods",
			EntityID: EntityID(int64(i + 1)),
			At:       base.Add(time.Duration(i) * time.Hour),
		}))
	}

	result, err := svc.Timeline(ctx, TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, "3", result.Rows[0].EntityID)

	result, err = svc.Timeline(ctx, TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
}

func TestRecordRequiresIdentity(t *testing.T) {
	svc := NewService(NewMemoryRepository(memstore.New()))
	err := svc.Record(context.Background(), Log{Action: "journal.post"})
	require.Error(t, err)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	store := memstore.New()
	svc := NewService(NewMemoryRepository(store))
	ctx := context.Background()
	err := store.WithTx(ctx, func(ctx context.Context) error {
		if err := svc.Record(ctx, Log{Action: "journal.post", Entity: "journal_entries", EntityID: "1", New: Snapshot(map[string]int{"debit": 100})}); err != nil {
			return err
		}
		return errors.New("posting failed")
	})
	require.Error(t, err)

	result, err := svc.Timeline(ctx, TimelineFilters{Entity: "journal_entries"})
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
}
