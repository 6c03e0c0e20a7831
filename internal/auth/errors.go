// internal/auth/errors.go
package auth

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why an adapter produced no identity
type Reason int

const (
	// MissingCredentials means the adapter does not apply to the request
	MissingCredentials Reason = iota
	// MalformedCredentials means the caller sent an unparsable value for the scheme
	MalformedCredentials
	// InvalidCredentials means the credentials parsed but failed verification
	InvalidCredentials
	// BackendUnavailable means a credential or token store could not be consulted
	BackendUnavailable
)

// String returns the snake_case reason name
func (r Reason) String() string {
	switch r {
	case MissingCredentials:
		return "missing_credentials"
	case MalformedCredentials:
		return "malformed_credentials"
	case InvalidCredentials:
		return "invalid_credentials"
	case BackendUnavailable:
		return "backend_unavailable"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ValidationFailure is the error a Validator returns when it cannot produce an identity
type ValidationFailure struct {
	// Adapter is the name of the adapter that failed; the dispatcher fills it in when empty
	Adapter string

	// Reason classifies the failure
	Reason Reason

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface
func (f *ValidationFailure) Error() string {
	prefix := f.Reason.String()
	if f.Adapter != "" {
		prefix = f.Adapter + ": " + prefix
	}
	if f.Err != nil {
		return prefix + ": " + f.Err.Error()
	}
	return prefix
}

// Unwrap returns the underlying cause
func (f *ValidationFailure) Unwrap() error {
	return f.Err
}

// Malformed wraps err as a MalformedCredentials failure
func Malformed(err error) *ValidationFailure {
	return &ValidationFailure{Reason: MalformedCredentials, Err: err}
}

// Invalid wraps err as an InvalidCredentials failure
func Invalid(err error) *ValidationFailure {
	return &ValidationFailure{Reason: InvalidCredentials, Err: err}
}

// Unavailable wraps err as a BackendUnavailable failure
func Unavailable(err error) *ValidationFailure {
	return &ValidationFailure{Reason: BackendUnavailable, Err: err}
}

// AsFailure converts any validator error into a ValidationFailure attributed to adapter.
// Errors that carry no classification are treated as backend faults.
func AsFailure(adapter string, err error) ValidationFailure {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		out := *vf
		if out.Adapter == "" {
			out.Adapter = adapter
		}
		return out
	}
	return ValidationFailure{Adapter: adapter, Reason: BackendUnavailable, Err: err}
}

// IsContextError reports whether err stems from cancellation or a deadline
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
