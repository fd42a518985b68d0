package shared

import "time"

// DateLayout is the calendar date format used on the wire and in messages.
const DateLayout = "2006-01-02"

// SourceType identifies what produced a journal entry.
type SourceType string

const (
	SourceManual     SourceType = "manual"
	SourceARBill     SourceType = "ar-bill"
	SourceARPayment  SourceType = "ar-payment"
	SourceAPInvoice  SourceType = "ap-invoice"
	SourceAPPayment  SourceType = "ap-payment"
	SourceAdjustment SourceType = "adjustment"
	SourceReversal   SourceType = "reversal"
)

// Subledger owners of control accounts.
const (
	OwnerAR = "ar"
	OwnerAP = "ap"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceManual, SourceARBill, SourceARPayment, SourceAPInvoice, SourceAPPayment, SourceAdjustment, SourceReversal:
		return true
	}
	return false
}

// Owner returns the subledger that emits this source type, or "".
func (s SourceType) Owner() string {
	switch s {
	case SourceARBill, SourceARPayment:
		return OwnerAR
	case SourceAPInvoice, SourceAPPayment:
		return OwnerAP
	}
	return ""
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, Invalid(field, "must be a YYYY-MM-DD date")
	}
	return t, nil
}
