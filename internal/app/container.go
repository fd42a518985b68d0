package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/ap"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/notify"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/events"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/internal/statements"
)

// Infra carries the optional infrastructure the services run on. Nil
// members disable the feature that needs them.
type Infra struct {
	Pool      *pgxpool.Pool
	Redis     redis.UniversalClient
	Publisher *events.Publisher
	Enqueuer  notify.Enqueuer
	Metrics   *observability.Metrics
}

// Services is the wired ledger.
type Services struct {
	Audit          *audit.Service
	Accounts       *accounts.Service
	Periods        *periods.Service
	Journals       *journals.Service
	Mappings       *mappings.Service
	Reports        *reports.Service
	AR             *ar.Service
	AP             *ap.Service
	Reconciliation *reconciliation.Service
	Statements     *statements.Service
}

type repositories struct {
	audit          audit.Repository
	accounts       accounts.Repository
	periods        periods.Repository
	journals       journals.Repository
	mappings       mappings.Repository
	ar             ar.Repository
	ap             ap.Repository
	reconciliation reconciliation.Repository
}

func memoryRepositories(store *memstore.Store) repositories {
	return repositories{
		audit:          audit.NewMemoryRepository(store),
		accounts:       accounts.NewMemoryRepository(store),
		periods:        periods.NewMemoryRepository(store),
		journals:       journals.NewMemoryRepository(store),
		mappings:       mappings.NewMemoryRepository(store),
		ar:             ar.NewMemoryRepository(store),
		ap:             ap.NewMemoryRepository(store),
		reconciliation: reconciliation.NewMemoryRepository(store),
	}
}

func postgresRepositories(pool *pgxpool.Pool) repositories {
	return repositories{
		audit:          audit.NewRepository(pool),
		accounts:       accounts.NewRepository(pool),
		periods:        periods.NewRepository(pool),
		journals:       journals.NewRepository(pool),
		mappings:       mappings.NewRepository(pool),
		ar:             ar.NewRepository(pool),
		ap:             ap.NewRepository(pool),
		reconciliation: reconciliation.NewRepository(pool),
	}
}

// NewServices builds every ledger service on the configured store and
// registers journal observers and period lock guards.
func NewServices(cfg *Config, infra Infra, logger *slog.Logger) (*Services, error) {
	var repos repositories
	switch cfg.StoreDriver {
	case StoreMemory:
		repos = memoryRepositories(memstore.New())
	case StorePostgres:
		if infra.Pool == nil {
			return nil, fmt.Errorf("app: %s store needs a connection pool", StorePostgres)
		}
		repos = postgresRepositories(infra.Pool)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}

	notifier, err := notify.New(cfg.NotifyDriver, notify.Options{
		Logger:    logger,
		Enqueuer:  infra.Enqueuer,
		Publisher: publisherOrNil(infra.Publisher),
	})
	if err != nil {
		return nil, err
	}

	s := &Services{Audit: audit.NewService(repos.audit)}
	s.Accounts = accounts.NewService(repos.accounts, s.Audit)
	s.Periods = periods.NewService(repos.periods, s.Audit)
	s.Journals = journals.NewService(repos.journals, s.Accounts, s.Periods, s.Audit)
	s.Accounts.SetUsageChecker(s.Journals)
	s.Mappings = mappings.NewService(repos.mappings, s.Accounts, s.Audit)
	s.Reports = reports.NewService(s.Journals, s.Periods)
	s.AR = ar.NewService(repos.ar, s.Journals, s.Accounts, s.Mappings, s.Audit)
	s.AP = ap.NewService(repos.ap, s.Journals, s.Accounts, s.Mappings, s.Audit)
	s.Reconciliation = reconciliation.NewService(repos.reconciliation, reconciliation.Deps{
		Accounts: s.Accounts,
		Periods:  s.Periods,
		Ledger:   s.Journals,
		Subledgers: map[string]reconciliation.Subledger{
			shared.OwnerAR: s.AR,
			shared.OwnerAP: s.AP,
		},
		Notifier: notifier,
		Audit:    s.Audit,
		Logger:   logger,
	})
	s.Journals.SetAdjustmentAuthority(s.Reconciliation)

	statementCache := cache.NewVersioned(infra.Redis, "statements", cfg.StatementCacheTTL, logger)
	s.Statements = statements.NewService(s.AR, s.Journals, s.Accounts, statementCache, logger)

	s.Journals.AddObserver(s.Statements)
	if infra.Metrics != nil {
		s.Journals.AddObserver(infra.Metrics)
	}
	if infra.Publisher != nil {
		s.Journals.AddObserver(events.NewLedgerObserver(infra.Publisher))
	}

	if cfg.LockBlockAPDrafts {
		s.Periods.AddLockGuard(s.AP)
	}
	if cfg.LockRequireReconciled {
		s.Periods.AddLockGuard(s.Reconciliation)
	}
	return s, nil
}

// publisherOrNil keeps a nil *events.Publisher from becoming a non-nil
// interface value.
func publisherOrNil(p *events.Publisher) notify.Publisher {
	if p == nil {
		return nil
	}
	return p
}
