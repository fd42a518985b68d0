package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrForbidden indicates the caller lacks the privilege for the action.
	ErrForbidden = errors.New("accounting: forbidden")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrControlAccount indicates a control account was posted to by a non-owner.
	ErrControlAccount = errors.New("accounting: control account violation")
	// ErrPeriodLocked indicates locked period.
	ErrPeriodLocked = errors.New("accounting: period locked")
	// ErrNoPeriod indicates no fiscal period covers the date.
	ErrNoPeriod = errors.New("accounting: no period defined")
	// ErrOverAllocation indicates allocations exceed payment or outstanding.
	ErrOverAllocation = errors.New("accounting: over allocation")
	// ErrOpenPostingsPending blocks a period lock while unposted items remain.
	ErrOpenPostingsPending = errors.New("accounting: open postings pending")
	// ErrReconciliationPending blocks a period lock while reconciliations are unmatched.
	ErrReconciliationPending = errors.New("accounting: reconciliation pending")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("accounting: not found")
	// ErrDuplicateCode indicates the account code already exists.
	ErrDuplicateCode = errors.New("accounting: duplicate code")
	// ErrInvalidHierarchy indicates the parent code does not resolve.
	ErrInvalidHierarchy = errors.New("accounting: invalid hierarchy")
	// ErrAccountInUse indicates the account is referenced by postings.
	ErrAccountInUse = errors.New("accounting: account in use")
	// ErrConflict indicates a state conflict such as a double reversal.
	ErrConflict = errors.New("accounting: conflict")
	// ErrStorage indicates an infrastructure failure; safe to retry.
	ErrStorage = errors.New("accounting: storage failure")
)

// ValidationError reports a malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ForbiddenError reports a privileged action attempted without elevation.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s requires elevated privilege", e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// UnbalancedEntryError carries the totals of an unbalanced entry.
type UnbalancedEntryError struct {
	Debit  int64
	Credit int64
}

// Delta returns debit minus credit.
func (e *UnbalancedEntryError) Delta() int64 { return e.Debit - e.Credit }

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced entry: debit %d credit %d delta %d", e.Debit, e.Credit, e.Delta())
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalanced }

// ControlAccountViolationError reports a control account touched by the wrong source.
type ControlAccountViolationError struct {
	AccountCode string
	SourceType  SourceType
}

func (e *ControlAccountViolationError) Error() string {
	return fmt.Sprintf("control account %s cannot be posted by source %s", e.AccountCode, e.SourceType)
}

func (e *ControlAccountViolationError) Unwrap() error { return ErrControlAccount }

// PeriodLockedError reports a posting into a locked period.
type PeriodLockedError struct {
	PeriodName string
	Date       time.Time
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period %s is locked for %s", e.PeriodName, e.Date.Format(DateLayout))
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// NoPeriodDefinedError reports a date not covered by any period.
type NoPeriodDefinedError struct {
	Date time.Time
}

func (e *NoPeriodDefinedError) Error() string {
	return fmt.Sprintf("no fiscal period covers %s", e.Date.Format(DateLayout))
}

func (e *NoPeriodDefinedError) Unwrap() error { return ErrNoPeriod }

// OverAllocationError reports an allocation beyond what is available.
type OverAllocationError struct {
	Target    string
	Requested int64
	Available int64
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over allocation on %s: requested %d available %d", e.Target, e.Requested, e.Available)
}

func (e *OverAllocationError) Unwrap() error { return ErrOverAllocation }

// OpenPostingsPendingError blocks a lock while unposted items exist.
type OpenPostingsPendingError struct {
	PeriodName string
	Pending    int
}

func (e *OpenPostingsPendingError) Error() string {
	return fmt.Sprintf("period %s has %d unposted items", e.PeriodName, e.Pending)
}

func (e *OpenPostingsPendingError) Unwrap() error { return ErrOpenPostingsPending }

// ReconciliationPendingError blocks a lock while control accounts are unmatched.
type ReconciliationPendingError struct {
	PeriodName   string
	AccountCodes []string
}

func (e *ReconciliationPendingError) Error() string {
	return fmt.Sprintf("period %s has unmatched reconciliations for %v", e.PeriodName, e.AccountCodes)
}

func (e *ReconciliationPendingError) Unwrap() error { return ErrReconciliationPending }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for a NotFoundError.
func NotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// DuplicateCodeError reports an existing account code.
type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("account code %s already exists", e.Code)
}

func (e *DuplicateCodeError) Unwrap() error { return ErrDuplicateCode }

// InvalidHierarchyError reports a parent code that does not resolve.
type InvalidHierarchyError struct {
	Code       string
	ParentCode string
}

func (e *InvalidHierarchyError) Error() string {
	return fmt.Sprintf("account %s: parent %s does not exist", e.Code, e.ParentCode)
}

func (e *InvalidHierarchyError) Unwrap() error { return ErrInvalidHierarchy }

// AccountInUseError reports an account that cannot be deleted.
type AccountInUseError struct {
	Code string
}

func (e *AccountInUseError) Error() string {
	return fmt.Sprintf("account %s is referenced and cannot be deleted", e.Code)
}

func (e *AccountInUseError) Unwrap() error { return ErrAccountInUse }

// ConflictError reports a state transition that cannot happen.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps an infrastructure failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it is nil or already a domain error.
func Storage(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomain reports whether err belongs to the accounting taxonomy.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrForbidden, ErrUnbalanced, ErrControlAccount, ErrPeriodLocked,
		ErrNoPeriod, ErrOverAllocation, ErrOpenPostingsPending, ErrReconciliationPending,
		ErrNotFound, ErrDuplicateCode, ErrInvalidHierarchy, ErrAccountInUse, ErrConflict, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
