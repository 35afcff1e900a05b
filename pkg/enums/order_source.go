package enums

import "fmt"

// OrderSource identifies the upstream channel an order-creation event came from.
type OrderSource string

const (
	OrderSourceManual OrderSource = "manual"
	OrderSourceImport OrderSource = "import"
	OrderSourceAPI    OrderSource = "api"
)

var validOrderSources = []OrderSource{
	OrderSourceManual,
	OrderSourceImport,
	OrderSourceAPI,
}

// String implements fmt.Stringer.
func (s OrderSource) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderSource.
func (s OrderSource) IsValid() bool {
	for _, candidate := range validOrderSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// SubmitsOnIngest reports whether events from this source go straight to
// submitted instead of landing in draft.
func (s OrderSource) SubmitsOnIngest() bool {
	return s == OrderSourceImport || s == OrderSourceAPI
}

// ParseOrderSource converts raw input into an OrderSource.
func ParseOrderSource(value string) (OrderSource, error) {
	for _, candidate := range validOrderSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order source %q", value)
}
