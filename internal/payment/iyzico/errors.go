package iyzico

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned when the API key or secret is not configured.
	ErrMissingCredentials = errors.New("iyzico: api key and secret key are required")
	// ErrTransport marks network failures, non-2xx answers and undecodable responses.
	ErrTransport = errors.New("iyzico: payment provider unavailable")
)

// Rejection is returned when the processor answers with a non-success status.
type Rejection struct {
	ErrorCode    string
	ErrorMessage string
	ErrorGroup   string
}

func (r *Rejection) Error() string {
	if r == nil {
		return ""
	}
	if r.ErrorCode == "" {
		return fmt.Sprintf("iyzico: payment rejected: %s", r.ErrorMessage)
	}
	return fmt.Sprintf("iyzico: payment rejected (%s): %s", r.ErrorCode, r.ErrorMessage)
}

func transportError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
