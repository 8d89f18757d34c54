package models

// Status classifies the outcome of a validation program or build step.
type Status string

const (
	// StatusSuccess indicates the check passed (or was deliberately skipped).
	StatusSuccess Status = "success"
	// StatusWarning indicates a non-fatal finding.
	StatusWarning Status = "warning"
	// StatusError indicates a failure, timeout, or spawn error.
	StatusError Status = "error"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusError:
		return true
	default:
		return false
	}
}
