package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVersioned(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "stmt", time.Minute, nil), mr
}

func TestFetchCachesUntilBump(t *testing.T) {
	c, mr := newVersioned(t)
	ctx := context.Background()
	var loads int32
	load := func(context.Context) ([]byte, error) {
		n := atomic.AddInt32(&loads, 1)
		return []byte{byte('0' + n)}, nil
	}

	first, err := c.Fetch(ctx, "student:1", load)
	require.NoError(t, err)
	second, err := c.Fetch(ctx, "student:1", load)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.True(t, mr.Exists("stmt:v0:student:1"))

	require.NoError(t, c.Bump(ctx))
	version, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	third, err := c.Fetch(ctx, "student:1", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), third)
	assert.Equal(t, 60*time.Second, mr.TTL("stmt:v1:student:1"))
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	c, _ := newVersioned(t)
	ctx := context.Background()
	var loads int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []byte("doc"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Fetch(ctx, "student:9", load)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, r := range results {
		assert.Equal(t, []byte("doc"), r)
	}
}

func TestFetchDegradesWithoutRedis(t *testing.T) {
	c, mr := newVersioned(t)
	mr.Close()
	data, err := c.Fetch(context.Background(), "k", func(context.Context) ([]byte, error) { return []byte("fresh"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)

	_, err = NewVersioned(nil, "x", time.Minute, nil).Fetch(context.Background(), "k", func(context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestFetchCountsHitsAndMisses(t *testing.T) {
	require.NoError(t, SetupMetrics(prometheus.NewRegistry()))
	c, _ := newVersioned(t)
	ctx := context.Background()
	hits := testutil.ToFloat64(hitCounter.WithLabelValues("stmt"))
	misses := testutil.ToFloat64(missCounter.WithLabelValues("stmt"))

	load := func(context.Context) ([]byte, error) { return []byte("doc"), nil }
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(ctx, "student:5", load)
		require.NoError(t, err)
	}

	assert.Equal(t, misses+1, testutil.ToFloat64(missCounter.WithLabelValues("stmt")))
	assert.Equal(t, hits+2, testutil.ToFloat64(hitCounter.WithLabelValues("stmt")))
}
