package reports

import (
	"sort"
	"strings"
)

// AccountBalance is one account's activity in minor units. Opening is the
// signed (debit positive) activity of all earlier periods.
type AccountBalance struct {
	Code    string
	Name    string
	Type    string
	Opening int64
	Debit   int64
	Credit  int64
}

// Closing returns the debit-positive balance at period end.
func (a AccountBalance) Closing() int64 {
	return a.Opening + a.Debit - a.Credit
}

// GroupKey returns the root segment of a dotted code, or the first two
// digits of a flat one.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceAccount is a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Opening int64  `json:"opening"`
	Debit   int64  `json:"debit"`
	Credit  int64  `json:"credit"`
	Closing int64  `json:"closing"`
}

// TrialBalanceGroup aggregates accounts sharing a group key.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Opening  int64                 `json:"opening"`
	Debit    int64                 `json:"debit"`
	Credit   int64                 `json:"credit"`
	Closing  int64                 `json:"closing"`
}

// TrialBalance is the grouped trial balance with opening and closing columns.
type TrialBalance struct {
	PeriodName   string              `json:"period_name"`
	Groups       []TrialBalanceGroup `json:"groups"`
	TotalDebit   int64               `json:"total_debit"`
	TotalCredit  int64               `json:"total_credit"`
	TotalOpening int64               `json:"total_opening"`
	TotalClosing int64               `json:"total_closing"`
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Opening: acc.Opening,
			Debit:   acc.Debit,
			Credit:  acc.Credit,
			Closing: acc.Closing(),
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Opening += row.Opening
		grp.Debit += row.Debit
		grp.Credit += row.Credit
		grp.Closing += row.Closing
	}

	sort.Strings(keys)
	result := TrialBalance{Groups: []TrialBalanceGroup{}}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalOpening += grp.Opening
		result.TotalDebit += grp.Debit
		result.TotalCredit += grp.Credit
		result.TotalClosing += grp.Closing
	}
	return result
}
