package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Versioned caches rendered documents under a namespace-wide version.
// Bumping the version orphans every cached value at once; the TTL reclaims
// them.
type Versioned struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
	group     singleflight.Group
}

// NewVersioned returns a cache storing keys under namespace. A nil client
// disables caching and every Fetch loads.
func NewVersioned(client redis.UniversalClient, namespace string, ttl time.Duration, logger *slog.Logger) *Versioned {
	if logger == nil {
		logger = slog.Default()
	}
	return &Versioned{client: client, namespace: namespace, ttl: ttl, logger: logger}
}

func (v *Versioned) versionKey() string {
	return v.namespace + ":version"
}

// Version returns the current namespace version, zero when unset.
func (v *Versioned) Version(ctx context.Context) (int64, error) {
	if v.client == nil {
		return 0, nil
	}
	n, err := v.client.Get(ctx, v.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("platform/cache: version: %w", err)
	}
	return n, nil
}

// Bump invalidates every cached value in the namespace.
func (v *Versioned) Bump(ctx context.Context) error {
	if v.client == nil {
		return nil
	}
	if err := v.client.Incr(ctx, v.versionKey()).Err(); err != nil {
		return fmt.Errorf("platform/cache: bump: %w", err)
	}
	return nil
}

// Fetch returns the cached value for key at the current version or calls
// load and stores its result. Concurrent misses for the same key share one
// load. Redis failures degrade to loading without caching.
func (v *Versioned) Fetch(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if v.client == nil {
		return load(ctx)
	}
	version, err := v.Version(ctx)
	if err != nil {
		v.logger.Warn("cache unavailable", slog.String("namespace", v.namespace), slog.Any("error", err))
		return load(ctx)
	}
	full := fmt.Sprintf("%s:v%d:%s", v.namespace, version, key)
	cached, err := v.client.Get(ctx, full).Bytes()
	switch {
	case err == nil:
		recordHit(v.namespace)
		return cached, nil
	case !errors.Is(err, redis.Nil):
		v.logger.Warn("cache read failed", slog.String("key", full), slog.Any("error", err))
		return load(ctx)
	}
	recordMiss(v.namespace)
	ch := v.group.DoChan(full, func() (any, error) {
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := v.client.Set(ctx, full, data, v.ttl).Err(); err != nil {
			v.logger.Warn("cache write failed", slog.String("key", full), slog.Any("error", err))
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
