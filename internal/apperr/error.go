// Package apperr carries the coded service errors shared by the domain packages.
package apperr

import (
	"errors"
	"fmt"
)

// ServiceError pairs a stable machine code with the underlying cause.
// Codes take the form <package>.<operation>.<reason>.
type ServiceError struct {
	code       string
	reason     string
	validation bool
	err        error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the fully qualified error code.
func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the trailing reason segment of the code.
func (e *ServiceError) Reason() string {
	return e.reason
}

// IsValidation reports whether the failure was detected before any remote call.
func (e *ServiceError) IsValidation() bool {
	return e.validation
}

// New wraps cause as a service failure of operation.
func New(operation, reason string, cause error) error {
	return &ServiceError{
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

// Validation wraps cause as an input validation failure of operation.
func Validation(operation, reason string, cause error) error {
	return &ServiceError{
		code:       fmt.Sprintf("%s.%s", operation, reason),
		reason:     reason,
		validation: true,
		err:        cause,
	}
}

// As extracts a ServiceError from err.
func As(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}
