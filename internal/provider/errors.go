package provider

import (
	"errors"
	"fmt"
	"time"
)

// QuotaError signals that a provider reported quota/rate-limit exhaustion.
// ResetAt is best effort: most providers only say so in free text, so the
// reset is approximated as the next UTC midnight.
type QuotaError struct {
	Provider string
	Message  string
	ResetAt  time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: quota exhausted: %s", e.Provider, e.Message)
}

// NewQuotaError builds a QuotaError with the reset approximated as the
// next UTC midnight after now.
func NewQuotaError(name, message string, now time.Time) *QuotaError {
	return &QuotaError{Provider: name, Message: message, ResetAt: NextUTCMidnight(now)}
}

// IsQuota reports whether err (or anything it wraps) is a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// NextUTCMidnight returns the first 00:00:00 UTC strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
