package reports

import (
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

var (
	typeAsset     = string(accounts.AccountTypeAsset)
	typeLiability = string(accounts.AccountTypeLiability)
	typeEquity    = string(accounts.AccountTypeEquity)
	typeIncome    = string(accounts.AccountTypeIncome)
	typeExpense   = string(accounts.AccountTypeExpense)
)

// BalanceSheetAccount is a closing balance, positive in its natural direction.
type BalanceSheetAccount struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

// BalanceSheetSection holds the accounts and total of one classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    int64                 `json:"total"`
}

// BalanceSheet is the statement of financial position at period end.
type BalanceSheet struct {
	PeriodName                string              `json:"period_name"`
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	CurrentEarnings           int64               `json:"current_earnings"`
	TotalLiabilitiesAndEquity int64               `json:"total_liabilities_and_equity"`
	Balanced                  bool                `json:"balanced"`
}

// BuildBalanceSheet classifies closing balances. Income and expense
// accounts are not closed into equity by posting, so their cumulative net
// is reported as current earnings inside equity.
func BuildBalanceSheet(accts []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Accounts: []BalanceSheetAccount{}}
	liabilities := BalanceSheetSection{Label: "Liabilities", Accounts: []BalanceSheetAccount{}}
	equity := BalanceSheetSection{Label: "Equity", Accounts: []BalanceSheetAccount{}}
	var earnings int64

	for _, acc := range accts {
		closing := acc.Closing()
		switch acc.Type {
		case typeAsset:
			assets.Accounts = append(assets.Accounts, BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: closing})
			assets.Total += closing
		case typeLiability:
			liabilities.Accounts = append(liabilities.Accounts, BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: -closing})
			liabilities.Total -= closing
		case typeEquity:
			equity.Accounts = append(equity.Accounts, BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: -closing})
			equity.Total -= closing
		case typeIncome, typeExpense:
			earnings -= closing
		}
	}
	equity.Total += earnings

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Code < assets.Accounts[j].Code })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Code < liabilities.Accounts[j].Code })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Code < equity.Accounts[j].Code })

	total := liabilities.Total + equity.Total
	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		CurrentEarnings:           earnings,
		TotalLiabilitiesAndEquity: total,
		Balanced:                  assets.Total == total,
	}
}
