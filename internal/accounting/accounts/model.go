package accounts

import (
	"strings"
	"time"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// DefaultNormalBalance returns the conventional side for t.
func DefaultNormalBalance(t AccountType) NormalBalance {
	if t == AccountTypeAsset || t == AccountTypeExpense {
		return NormalDebit
	}
	return NormalCredit
}

// RestrictionType classifies fund restrictions.
type RestrictionType string

const (
	Unrestricted          RestrictionType = "unrestricted"
	TemporarilyRestricted RestrictionType = "temporarily-restricted"
	PermanentlyRestricted RestrictionType = "permanently-restricted"
)

// Valid reports whether r is a known restriction type.
func (r RestrictionType) Valid() bool {
	return r == Unrestricted || r == TemporarilyRestricted || r == PermanentlyRestricted
}

// Account models a chart of accounts node.
type Account struct {
	ID            int64         `json:"id"`
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	Type          AccountType   `json:"type"`
	NormalBalance NormalBalance `json:"normal_balance"`
	FundID        *int64        `json:"fund_id,omitempty"`
	ParentID      *int64        `json:"parent_id,omitempty"`
	IsControl     bool          `json:"is_control_account"`
	ControlOwner  string        `json:"control_owner,omitempty"`
	IsActive      bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Signed returns debit-minus-credit expressed on the account's normal side.
func (a Account) Signed(debit, credit int64) int64 {
	if a.NormalBalance == NormalCredit {
		return credit - debit
	}
	return debit - credit
}

// Fund segregates balances for fund accounting.
type Fund struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	RestrictionType RestrictionType `json:"restriction_type"`
	IsActive        bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ParentCode returns the code prefix up to the last '.', or "" for roots.
func ParentCode(code string) string {
	idx := strings.LastIndex(code, ".")
	if idx <= 0 {
		return ""
	}
	return code[:idx]
}

// CreateAccountInput carries the fields for CreateAccount.
type CreateAccountInput struct {
	Code          string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	FundID        *int64
	IsControl     bool
	ControlOwner  string
	ActorID       int64
}

// CreateFundInput carries the fields for CreateFund.
type CreateFundInput struct {
	Name            string
	RestrictionType RestrictionType
	ActorID         int64
}
