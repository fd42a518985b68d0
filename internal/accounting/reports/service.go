package reports

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
)

// Ledger supplies per-period account activity.
type Ledger interface {
	TrialBalance(ctx context.Context, periodID int64) (journals.TrialBalance, error)
}

// Periods lists and loads fiscal periods.
type Periods interface {
	GetPeriod(ctx context.Context, id int64) (periods.Period, error)
	ListPeriods(ctx context.Context) ([]periods.Period, error)
}

// Service builds financial statements from journal activity.
type Service struct {
	ledger  Ledger
	periods Periods
}

// NewService constructs the report service.
func NewService(ledger Ledger, p Periods) *Service {
	return &Service{ledger: ledger, periods: p}
}

// Balances returns every account with activity up to the end of periodID:
// earlier periods fold into Opening, the period itself into Debit/Credit.
func (s *Service) Balances(ctx context.Context, periodID int64) ([]AccountBalance, periods.Period, error) {
	target, err := s.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, periods.Period{}, err
	}
	all, err := s.periods.ListPeriods(ctx)
	if err != nil {
		return nil, periods.Period{}, err
	}
	byCode := make(map[string]*AccountBalance)
	row := func(r journals.TrialBalanceRow) *AccountBalance {
		b, ok := byCode[r.Code]
		if !ok {
			b = &AccountBalance{Code: r.Code, Name: r.Name, Type: r.Type}
			byCode[r.Code] = b
		}
		return b
	}
	for _, p := range all {
		if !p.StartDate.Before(target.StartDate) {
			continue
		}
		tb, err := s.ledger.TrialBalance(ctx, p.ID)
		if err != nil {
			return nil, periods.Period{}, err
		}
		for _, r := range tb.Rows {
			row(r).Opening += r.Debit - r.Credit
		}
	}
	tb, err := s.ledger.TrialBalance(ctx, target.ID)
	if err != nil {
		return nil, periods.Period{}, err
	}
	for _, r := range tb.Rows {
		b := row(r)
		b.Debit += r.Debit
		b.Credit += r.Credit
	}

	out := make([]AccountBalance, 0, len(byCode))
	for _, b := range byCode {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, target, nil
}

// TrialBalance returns the grouped trial balance of periodID.
func (s *Service) TrialBalance(ctx context.Context, periodID int64) (TrialBalance, error) {
	balances, period, err := s.Balances(ctx, periodID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := BuildTrialBalance(balances)
	tb.PeriodName = period.Name
	return tb, nil
}

// ProfitAndLoss returns the statement of activities of periodID.
func (s *Service) ProfitAndLoss(ctx context.Context, periodID int64) (ProfitAndLoss, error) {
	balances, period, err := s.Balances(ctx, periodID)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	pl := BuildProfitAndLoss(balances)
	pl.PeriodName = period.Name
	return pl, nil
}

// BalanceSheet returns the financial position at the end of periodID.
func (s *Service) BalanceSheet(ctx context.Context, periodID int64) (BalanceSheet, error) {
	balances, period, err := s.Balances(ctx, periodID)
	if err != nil {
		return BalanceSheet{}, err
	}
	bs := BuildBalanceSheet(balances)
	bs.PeriodName = period.Name
	return bs, nil
}
