package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/events"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Runtime owns the connections behind a running process.
type Runtime struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Publisher *events.Publisher
	Jobs      *jobs.Client
	Metrics   *observability.Metrics
	Services  *Services
}

// Open connects the configured infrastructure and wires the services.
// Redis and RabbitMQ are optional: when unreachable the statement cache
// and event publishing are disabled. In test mode only the in-memory store
// is used.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	if InTestMode() {
		local := *cfg
		local.StoreDriver = StoreMemory
		local.NotifyDriver = "log"
		rt.Config = &local
		services, err := NewServices(rt.Config, Infra{Metrics: rt.Metrics}, logger)
		if err != nil {
			return nil, err
		}
		rt.Services = services
		return rt, nil
	}

	if cfg.StoreDriver == StorePostgres {
		if cfg.RunMigrations {
			if err := db.Migrate(cfg.PGDSN, logger); err != nil {
				return nil, err
			}
		}
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, statement cache disabled", slog.Any("error", err))
	} else {
		rt.Redis = redisClient
		if err := cache.SetupMetrics(rt.Metrics.Registerer()); err != nil {
			logger.Warn("register cache metrics", slog.Any("error", err))
		}
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			if cfg.NotifyDriver == "amqp" {
				rt.Close()
				return nil, err
			}
			logger.Warn("amqp unavailable, ledger events disabled", slog.Any("error", err))
		} else {
			rt.Publisher = publisher
		}
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Jobs = jobClient

	infra := Infra{Pool: rt.Pool, Publisher: rt.Publisher, Enqueuer: rt.Jobs, Metrics: rt.Metrics}
	if rt.Redis != nil {
		infra.Redis = rt.Redis
	}
	services, err := NewServices(cfg, infra, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Services = services
	return rt, nil
}

// HealthChecks returns the pingers /healthz consults.
func (rt *Runtime) HealthChecks() []Pinger {
	var out []Pinger
	if rt.Pool != nil {
		out = append(out, rt.Pool)
	}
	if rt.Redis != nil {
		out = append(out, redisPinger{rt.Redis})
	}
	return out
}

// Close releases every connection. It is safe on a partly opened runtime.
func (rt *Runtime) Close() {
	var errs []error
	if rt.Jobs != nil {
		errs = append(errs, rt.Jobs.Close())
	}
	if rt.Publisher != nil {
		errs = append(errs, rt.Publisher.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		rt.Logger.Warn("close runtime", slog.Any("error", err))
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
