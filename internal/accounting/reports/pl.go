package reports

import "sort"

// ProfitAndLossAccount is an income or expense line, positive in its
// natural direction.
type ProfitAndLossAccount struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string                 `json:"label"`
	Accounts []ProfitAndLossAccount `json:"accounts"`
	Total    int64                  `json:"total"`
}

// ProfitAndLoss is the period's statement of activities.
type ProfitAndLoss struct {
	PeriodName string               `json:"period_name"`
	Revenue    ProfitAndLossSection `json:"revenue"`
	Expense    ProfitAndLossSection `json:"expense"`
	NetIncome  int64                `json:"net_income"`
}

// BuildProfitAndLoss aggregates the period activity of income and expense
// accounts. Opening balances are ignored.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue", Accounts: []ProfitAndLossAccount{}}
	expense := ProfitAndLossSection{Label: "Expense", Accounts: []ProfitAndLossAccount{}}

	for _, acc := range accounts {
		amount := acc.Debit - acc.Credit
		row := ProfitAndLossAccount{Code: acc.Code, Name: acc.Name, Amount: amount}
		switch acc.Type {
		case typeIncome:
			row.Amount = -amount
			revenue.Accounts = append(revenue.Accounts, row)
			revenue.Total += row.Amount
		case typeExpense:
			expense.Accounts = append(expense.Accounts, row)
			expense.Total += row.Amount
		}
	}

	sort.Slice(revenue.Accounts, func(i, j int) bool { return revenue.Accounts[i].Code < revenue.Accounts[j].Code })
	sort.Slice(expense.Accounts, func(i, j int) bool { return expense.Accounts[i].Code < expense.Accounts[j].Code })

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total - expense.Total,
	}
}
