package enums

import "fmt"

// ConflictStrategy decides what happens when two creation events collide on
// the same business key.
type ConflictStrategy string

const (
	ConflictStrategyKeepExisting ConflictStrategy = "keep_existing"
	ConflictStrategyKeepNew      ConflictStrategy = "keep_new"
	ConflictStrategyReplace      ConflictStrategy = "replace"
	ConflictStrategyMerge        ConflictStrategy = "merge"
)

var validConflictStrategies = []ConflictStrategy{
	ConflictStrategyKeepExisting,
	ConflictStrategyKeepNew,
	ConflictStrategyReplace,
	ConflictStrategyMerge,
}

// String implements fmt.Stringer.
func (s ConflictStrategy) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ConflictStrategy.
func (s ConflictStrategy) IsValid() bool {
	for _, candidate := range validConflictStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseConflictStrategy converts raw input into a ConflictStrategy. An empty
// value resolves to keep_existing, the safe default.
func ParseConflictStrategy(value string) (ConflictStrategy, error) {
	if value == "" {
		return ConflictStrategyKeepExisting, nil
	}
	for _, candidate := range validConflictStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict strategy %q", value)
}
