package mappings

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// AccountLookup is the slice of the account registry mappings need.
type AccountLookup interface {
	GetAccount(ctx context.Context, code string) (accounts.Account, error)
	ResolveForPosting(ctx context.Context, id int64, code string) (accounts.Account, error)
}

// AuditPort records mapping changes.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// Service resolves and maintains module account mappings.
type Service struct {
	repo     Repository
	accounts AccountLookup
	audit    AuditPort
	now      func() time.Time
}

// NewService constructs the mapping service.
func NewService(repo Repository, accts AccountLookup, audit AuditPort) *Service {
	return &Service{repo: repo, accounts: accts, audit: audit, now: time.Now}
}

// Resolve returns the active account mapped to module/key.
func (s *Service) Resolve(ctx context.Context, module, key string) (accounts.Account, error) {
	module, key = normalize(module, key)
	if module == "" || key == "" {
		return accounts.Account{}, shared.Invalid("mapping", "module and key required")
	}
	mapping, err := s.repo.Get(ctx, module, key)
	if err != nil {
		return accounts.Account{}, err
	}
	return s.accounts.ResolveForPosting(ctx, mapping.AccountID, "")
}

// SetMapping points module/key at the account with code.
func (s *Service) SetMapping(ctx context.Context, module, key, code string, actorID int64) (AccountMapping, error) {
	module, key = normalize(module, key)
	if module == "" || key == "" {
		return AccountMapping{}, shared.Invalid("mapping", "module and key required")
	}
	account, err := s.accounts.GetAccount(ctx, code)
	if err != nil {
		return AccountMapping{}, err
	}
	var old any
	if current, err := s.repo.Get(ctx, module, key); err == nil {
		old = current
	} else if !shared.IsNotFound(err) {
		return AccountMapping{}, err
	}
	now := s.now()
	mapping := AccountMapping{Module: module, Key: key, AccountID: account.ID, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.Upsert(ctx, mapping); err != nil {
		return AccountMapping{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Log{
			ActorID:  actorID,
			Action:   "mapping.set",
			Entity:   "account_mappings",
			EntityID: module + "/" + key,
			Old:      audit.Snapshot(old),
			New:      audit.Snapshot(mapping),
			At:       now,
		}); err != nil {
			return AccountMapping{}, err
		}
	}
	return mapping, nil
}

// List returns every mapping.
func (s *Service) List(ctx context.Context) ([]AccountMapping, error) {
	return s.repo.List(ctx)
}
