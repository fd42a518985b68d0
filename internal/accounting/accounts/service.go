package accounts

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9]+)*$`)

// AuditPort records master data changes.
type AuditPort interface {
	Record(ctx context.Context, log audit.Log) error
}

// UsageChecker reports whether journal lines reference an account.
type UsageChecker interface {
	AccountHasPostings(ctx context.Context, accountID int64) (bool, error)
}

// Service owns the chart of accounts and funds.
type Service struct {
	repo  Repository
	audit AuditPort
	usage UsageChecker
	now   func() time.Time
}

// NewService constructs the registry service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// SetUsageChecker wires the journal lookup used by DeleteAccount.
func (s *Service) SetUsageChecker(usage UsageChecker) {
	s.usage = usage
}

// CreateAccount validates and inserts a new account.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if !codePattern.MatchString(in.Code) {
		return Account{}, shared.Invalid("code", "must be dot separated alphanumeric segments")
	}
	if in.Name == "" {
		return Account{}, shared.Invalid("name", "is required")
	}
	if !in.Type.Valid() {
		return Account{}, shared.Invalid("type", "must be asset, liability, equity, income or expense")
	}
	if in.NormalBalance == "" {
		in.NormalBalance = DefaultNormalBalance(in.Type)
	}
	if in.NormalBalance != NormalDebit && in.NormalBalance != NormalCredit {
		return Account{}, shared.Invalid("normal_balance", "must be debit or credit")
	}
	if err := validateControl(in); err != nil {
		return Account{}, err
	}

	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountByCode(ctx, in.Code); err == nil {
			return &shared.DuplicateCodeError{Code: in.Code}
		} else if !isNotFound(err) {
			return err
		}
		account := Account{
			Code:          in.Code,
			Name:          in.Name,
			Type:          in.Type,
			NormalBalance: in.NormalBalance,
			FundID:        in.FundID,
			IsControl:     in.IsControl,
			ControlOwner:  in.ControlOwner,
			IsActive:      true,
		}
		if parentCode := ParentCode(in.Code); parentCode != "" {
			parent, err := tx.GetAccountByCode(ctx, parentCode)
			if err != nil {
				if isNotFound(err) {
					return &shared.InvalidHierarchyError{Code: in.Code, ParentCode: parentCode}
				}
				return err
			}
			account.ParentID = &parent.ID
		}
		if in.FundID != nil {
			fund, err := tx.GetFund(ctx, *in.FundID)
			if err != nil {
				if isNotFound(err) {
					return shared.Invalid("fund_id", "does not exist")
				}
				return err
			}
			if !fund.IsActive {
				return shared.Invalid("fund_id", "fund is inactive")
			}
		}
		now := s.now()
		account.CreatedAt, account.UpdatedAt = now, now
		inserted, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		created = inserted
		return s.record(ctx, in.ActorID, "account.create", "accounts", inserted.ID, nil, inserted)
	})
	if err != nil {
		return Account{}, err
	}
	return created, nil
}

func validateControl(in CreateAccountInput) error {
	if !in.IsControl {
		if in.ControlOwner != "" {
			return shared.Invalid("control_owner", "only applies to control accounts")
		}
		return nil
	}
	switch in.ControlOwner {
	case shared.OwnerAR:
		if in.Type != AccountTypeAsset {
			return shared.Invalid("type", "accounts receivable control must be an asset")
		}
	case shared.OwnerAP:
		if in.Type != AccountTypeLiability {
			return shared.Invalid("type", "accounts payable control must be a liability")
		}
	default:
		return shared.Invalid("control_owner", "must be ar or ap")
	}
	return nil
}

// GetAccount returns the account with code.
func (s *Service) GetAccount(ctx context.Context, code string) (Account, error) {
	return s.repo.GetAccountByCode(ctx, strings.TrimSpace(code))
}

// GetAccountByID returns the account with id.
func (s *Service) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccountByID(ctx, id)
}

// ListAccounts returns every account ordered by code.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// ListControlAccounts returns control accounts, optionally for one owner.
// Deactivated accounts are included: they keep their history and must still
// reconcile.
func (s *Service) ListControlAccounts(ctx context.Context, owner string) ([]Account, error) {
	all, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range all {
		if a.IsControl && (owner == "" || a.ControlOwner == owner) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ResolveForPosting looks up an account by id, or by code when id is zero,
// and requires it to be active.
func (s *Service) ResolveForPosting(ctx context.Context, id int64, code string) (Account, error) {
	var (
		account Account
		err     error
	)
	switch {
	case id != 0:
		account, err = s.repo.GetAccountByID(ctx, id)
	case strings.TrimSpace(code) != "":
		account, err = s.repo.GetAccountByCode(ctx, strings.TrimSpace(code))
	default:
		return Account{}, shared.Invalid("account", "id or code is required")
	}
	if err != nil {
		return Account{}, err
	}
	if !account.IsActive {
		return Account{}, shared.Invalid("account", account.Code+" is inactive")
	}
	return account, nil
}

// DeactivateAccount blocks new postings while keeping history.
func (s *Service) DeactivateAccount(ctx context.Context, code string, actorID int64) (Account, error) {
	return s.setAccountActive(ctx, code, false, actorID)
}

// ActivateAccount re-enables a deactivated account.
func (s *Service) ActivateAccount(ctx context.Context, code string, actorID int64) (Account, error) {
	return s.setAccountActive(ctx, code, true, actorID)
}

func (s *Service) setAccountActive(ctx context.Context, code string, active bool, actorID int64) (Account, error) {
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccountByCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		updated = current
		if current.IsActive == active {
			return nil
		}
		updated.IsActive = active
		updated.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, updated); err != nil {
			return err
		}
		action := "account.deactivate"
		if active {
			action = "account.activate"
		}
		return s.record(ctx, actorID, action, "accounts", current.ID, current, updated)
	})
	return updated, err
}

// DeleteAccount removes an account that nothing references.
func (s *Service) DeleteAccount(ctx context.Context, code string, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountByCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		children, err := tx.CountChildren(ctx, account.ID)
		if err != nil {
			return err
		}
		if children > 0 {
			return &shared.AccountInUseError{Code: account.Code}
		}
		if s.usage != nil {
			used, err := s.usage.AccountHasPostings(ctx, account.ID)
			if err != nil {
				return err
			}
			if used {
				return &shared.AccountInUseError{Code: account.Code}
			}
		}
		if err := tx.DeleteAccount(ctx, account); err != nil {
			return err
		}
		return s.record(ctx, actorID, "account.delete", "accounts", account.ID, account, nil)
	})
}

// CreateFund inserts a fund.
func (s *Service) CreateFund(ctx context.Context, in CreateFundInput) (Fund, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Fund{}, shared.Invalid("name", "is required")
	}
	if in.RestrictionType == "" {
		in.RestrictionType = Unrestricted
	}
	if !in.RestrictionType.Valid() {
		return Fund{}, shared.Invalid("restriction_type", "is not a known restriction")
	}
	var created Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		fund, err := tx.InsertFund(ctx, Fund{Name: in.Name, RestrictionType: in.RestrictionType, IsActive: true, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		created = fund
		return s.record(ctx, in.ActorID, "fund.create", "funds", fund.ID, nil, fund)
	})
	return created, err
}

// GetFund returns the fund with id.
func (s *Service) GetFund(ctx context.Context, id int64) (Fund, error) {
	return s.repo.GetFund(ctx, id)
}

// ListFunds returns all funds.
func (s *Service) ListFunds(ctx context.Context) ([]Fund, error) {
	return s.repo.ListFunds(ctx)
}

// ResolveFund returns an active fund.
func (s *Service) ResolveFund(ctx context.Context, id int64) (Fund, error) {
	fund, err := s.repo.GetFund(ctx, id)
	if err != nil {
		return Fund{}, err
	}
	if !fund.IsActive {
		return Fund{}, shared.Invalid("fund", fund.Name+" is inactive")
	}
	return fund, nil
}

// DeactivateFund soft-deactivates a fund.
func (s *Service) DeactivateFund(ctx context.Context, id, actorID int64) (Fund, error) {
	var updated Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetFund(ctx, id)
		if err != nil {
			return err
		}
		updated = current
		if !current.IsActive {
			return nil
		}
		updated.IsActive = false
		updated.UpdatedAt = s.now()
		if err := tx.UpdateFund(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, actorID, "fund.deactivate", "funds", id, current, updated)
	})
	return updated, err
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, old, new any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Log{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: audit.EntityID(id),
		Old:      audit.Snapshot(old),
		New:      audit.Snapshot(new),
		At:       s.now(),
	})
}

func isNotFound(err error) bool {
	return err != nil && shared.IsNotFound(err)
}
