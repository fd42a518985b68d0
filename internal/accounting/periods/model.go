package periods

import "time"

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = "open"
	StatusLocked Status = "locked"
)

// Period represents a fiscal period window. Dates are whole UTC days and
// both bounds are inclusive.
type Period struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Status    Status     `json:"status"`
	LockedBy  *int64     `json:"locked_by,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Contains reports whether day falls inside the period.
func (p Period) Contains(day time.Time) bool {
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

// IsLocked reports whether postings are blocked.
func (p Period) IsLocked() bool { return p.Status == StatusLocked }

// CreateInput carries the fields for CreatePeriod.
type CreateInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// LockMode selects the row lock taken by a lookup.
type LockMode int

const (
	LockNone LockMode = iota
	// LockShare blocks concurrent LockPeriod until the caller's tx ends.
	LockShare
	// LockUpdate is exclusive.
	LockUpdate
)
