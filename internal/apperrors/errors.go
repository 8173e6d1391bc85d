package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthFailed         = errors.New("login failed")
	ErrRegistrationFailed = errors.New("registration failed")

	ErrNoToken      = errors.New("no token to refresh")
	ErrAuthExpired  = errors.New("authentication expired, please login again")
	ErrAuthRequired = errors.New("authentication required")
	ErrAuthRejected = errors.New("authentication rejected by server, please login again")

	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrStateNotFound = errors.New("persisted state not found")
)

// FailureError carries a human readable message (usually the server 'detail')
// and is classified by one of the sentinel errors above
type FailureError struct {
	Kind    error
	Message string
	Err     error // underlying cause, may be nil
}

func NewFailure(kind error, message string, cause error) *FailureError {
	return &FailureError{Kind: kind, Message: message, Err: cause}
}

func (e *FailureError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *FailureError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// APIError is any non-2xx response except the ones handled as auth failures
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: %d", e.Status)
	}
	return e.Message
}

// Is makes 404 responses match ErrNotFound
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// NetworkError means no response was received at all
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: unable to connect to the server: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
