// Package errors provides the failure taxonomy shared by every Poesy API call.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	ErrTransport       = errors.New("transport failure")
	ErrDecode          = errors.New("response is not valid JSON")
	ErrUnauthenticated = errors.New("not logged in")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrMissingRefreshToken is an authentication failure: there is nothing to refresh with.
	ErrMissingRefreshToken = fmt.Errorf("missing refresh token: %w", ErrUnauthenticated)
)

// Kind labels used in logs and metrics.
const (
	KindTransport = "transport"
	KindStatus    = "status"
	KindDecode    = "decode"
	KindSchema    = "schema"
	KindAuth      = "auth"
	KindCanceled  = "canceled"
	KindInput     = "input"
	KindOther     = "other"
)

// StatusError is a non-200 response from the API.
type StatusError struct {
	Status     int
	StatusText string
	// Message is the server-supplied {"error": "..."} text, if any.
	Message string
}

func (e *StatusError) Error() string {
	text := fmt.Sprintf("HTTP %d %s", e.Status, e.StatusText)
	if e.Message != "" {
		return text + ": " + e.Message
	}
	return text
}

// NewStatusError creates a StatusError, deriving the status text from the code when empty.
func NewStatusError(status int, statusText, message string) *StatusError {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	return &StatusError{Status: status, StatusText: statusText, Message: message}
}

// SchemaError means the body was JSON but not the shape the caller expected.
type SchemaError struct {
	URL string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("malformed response from %s", e.URL)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// TransportError wraps a failure below HTTP: DNS, connection, abort, body read.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Kind classifies err into one of the Kind* labels.
func Kind(err error) string {
	var statusErr *StatusError
	var schemaErr *SchemaError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &statusErr):
		return KindStatus
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrUnauthenticated):
		return KindAuth
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrInvalidInput):
		return KindInput
	default:
		return KindOther
	}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransport)
}
