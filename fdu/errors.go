package fdu

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrLoginFailed         = errors.New("portal: login failed")
	ErrLogoutFailed        = errors.New("portal: logout failed")
	ErrNotLoggedIn         = errors.New("portal: not logged in")
	ErrUpstreamUnavailable = errors.New("portal: host unreachable or transport failure")
	ErrBadResponse         = errors.New("portal: invalid response format or malformed data")
	ErrTimeout             = errors.New("portal: request timed out")
)

// errorClass maps an error onto its sentinel class for trace attributes.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	case errors.Is(err, ErrLoginFailed):
		return "login_failed"
	case errors.Is(err, ErrNotLoggedIn):
		return "not_logged_in"
	default:
		return "internal"
	}
}

// PortalError is a rich error type that wraps the sentinel errors with context.
type PortalError struct {
	Sentinel  error
	Portal    string
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *PortalError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Portal, e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PortalError) Unwrap() error {
	return e.Sentinel
}

// NewPortalError builds a PortalError for the given portal operation.
func NewPortalError(sentinel error, portal, operation string) *PortalError {
	return &PortalError{Sentinel: sentinel, Portal: portal, Operation: operation}
}

// WithStatus attaches the HTTP status code.
func (e *PortalError) WithStatus(status int) *PortalError {
	e.Status = status
	return e
}

// WithBody attaches a short response body excerpt.
func (e *PortalError) WithBody(body string) *PortalError {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	e.Body = body
	return e
}

// WithCause attaches the lower-level error.
func (e *PortalError) WithCause(err error) *PortalError {
	e.Err = err
	return e
}
