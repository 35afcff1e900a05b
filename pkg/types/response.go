package types

// SuccessEnvelope wraps every successful payload the operator API returns.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public shape of a failed request. Retryable tells replay
// tooling whether repeating the same call can ever succeed, mirroring the
// ack/nack decision the ingest worker makes for the same error codes.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorEnvelope carries a single APIError; handlers never return partial
// data alongside an error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
