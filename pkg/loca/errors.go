package loca

import (
	"errors"
	"fmt"
)

// ErrorKind identifies one of the closed set of failure classes that the
// client reports. Callers branch on the kind instead of inspecting raw
// transport errors.
type ErrorKind string

const (
	ErrKindConnectivity   ErrorKind = "connectivity"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindAuthentication ErrorKind = "authentication"
	ErrKindNotFound       ErrorKind = "not_found"
	ErrKindThrottled      ErrorKind = "throttled"
	ErrKindProtocol       ErrorKind = "protocol"
	ErrKindValidation     ErrorKind = "validation"
)

// APIError is a classified failure from the Loca API client. The message
// only carries non-identifying context (endpoint name, HTTP status), never
// credentials or tokens.
type APIError struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	cause    error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("loca: %s error on %s (status %d)", e.Kind, e.Endpoint, e.Status)
	}
	return fmt.Sprintf("loca: %s error on %s", e.Kind, e.Endpoint)
}

// Unwrap exposes the underlying transport error for errors.Is chains.
func (e *APIError) Unwrap() error {
	return e.cause
}

// newAPIError builds a classified error for the given endpoint.
func newAPIError(kind ErrorKind, endpoint string, status int, cause error) *APIError {
	return &APIError{
		Kind:     kind,
		Endpoint: endpoint,
		Status:   status,
		cause:    cause,
	}
}

// KindOf returns the classified kind of err, or an empty string when err is
// not a classified API error.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return ErrKindValidation
	}
	return ""
}

// IsAuthenticationError reports whether err was classified as an
// authentication failure.
func IsAuthenticationError(err error) bool {
	return KindOf(err) == ErrKindAuthentication
}

// Retriable reports whether the next scheduled cycle should simply retry the
// operation. Connectivity, timeout and throttling failures are expected
// transients; everything else needs attention from the host platform.
func Retriable(err error) bool {
	switch KindOf(err) {
	case ErrKindConnectivity, ErrKindTimeout, ErrKindThrottled:
		return true
	}
	return false
}

// ValidationError is raised for a single malformed field in an otherwise
// usable record. The caller drops the field and keeps the record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("loca: invalid %s: %s", e.Field, e.Reason)
}
