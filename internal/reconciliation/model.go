package reconciliation

import "time"

// Status tracks the outcome of a reconciliation run.
type Status string

const (
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
	StatusResolved  Status = "resolved"
)

// GlReconciliation compares a subledger total with the GL balance of its
// control account for one period. Difference is SubledgerTotal - GLBalance.
type GlReconciliation struct {
	ID                int64      `json:"id"`
	PeriodID          int64      `json:"period_id"`
	ControlAccountID  int64      `json:"control_account_id"`
	SubledgerTotal    int64      `json:"subledger_total"`
	GLBalance         int64      `json:"gl_balance"`
	Difference        int64      `json:"difference"`
	Status            Status     `json:"status"`
	ResolvedBy        *int64     `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	AdjustmentEntryID *int64     `json:"adjustment_entry_id,omitempty"`
	CreatedBy         int64      `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Settled reports whether the record no longer blocks a period lock.
func (r GlReconciliation) Settled() bool {
	return r.Status == StatusMatched || r.Status == StatusResolved
}

// ResolveInput closes an unmatched reconciliation. When Adjust is set an
// adjustment entry moves the GL balance onto the subledger total, offset
// against OffsetAccountCode.
type ResolveInput struct {
	ID                int64
	Notes             string
	Adjust            bool
	OffsetAccountCode string
	Date              *time.Time
	ActorID           int64
}

// Alert is raised when a reconciliation does not match.
type Alert struct {
	ReconciliationID int64  `json:"reconciliation_id"`
	PeriodID         int64  `json:"period_id"`
	PeriodName       string `json:"period_name"`
	AccountCode      string `json:"account_code"`
	SubledgerTotal   int64  `json:"subledger_total"`
	GLBalance        int64  `json:"gl_balance"`
	Difference       int64  `json:"difference"`
}
