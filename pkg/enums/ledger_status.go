package enums

import "fmt"

// LedgerStatus records the processing outcome of one inbound message.
type LedgerStatus string

const (
	LedgerStatusProcessing LedgerStatus = "processing"
	LedgerStatusSuccess    LedgerStatus = "success"
	LedgerStatusDuplicate  LedgerStatus = "duplicate"
	LedgerStatusFailed     LedgerStatus = "failed"
	LedgerStatusDeadLetter LedgerStatus = "dead_letter"
)

var validLedgerStatuses = []LedgerStatus{
	LedgerStatusProcessing,
	LedgerStatusSuccess,
	LedgerStatusDuplicate,
	LedgerStatusFailed,
	LedgerStatusDeadLetter,
}

// String implements fmt.Stringer.
func (s LedgerStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LedgerStatus.
func (s LedgerStatus) IsValid() bool {
	for _, candidate := range validLedgerStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSettled reports whether the entry already captured a business outcome, so
// another delivery of the same key must be skipped.
func (s LedgerStatus) IsSettled() bool {
	return s == LedgerStatusSuccess || s == LedgerStatusDuplicate
}

// ParseLedgerStatus converts raw input into a LedgerStatus.
func ParseLedgerStatus(value string) (LedgerStatus, error) {
	for _, candidate := range validLedgerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger status %q", value)
}
