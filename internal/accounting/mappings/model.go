package mappings

import (
	"strings"
	"time"
)

// Default mapping keys resolved by the subledger adapters.
const (
	ModuleAR = "AR"
	ModuleAP = "AP"

	KeyARControl = "ar.control"
	KeyARCash    = "ar.cash"
	KeyARIncome  = "ar.income"
	KeyAPControl = "ap.control"
	KeyAPCash    = "ap.cash"
	KeyAPExpense = "ap.expense"
)

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	Module    string    `json:"module"`
	Key       string    `json:"key"`
	AccountID int64     `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func normalize(module, key string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(module)), strings.TrimSpace(key)
}
