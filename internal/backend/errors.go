// Package backend provides the resilient call client for external
// generation services and the error taxonomy attached to it.
package backend

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorClass classifies a failed generation call.
type ErrorClass string

const (
	ClassOverloaded  ErrorClass = "OVERLOADED"
	ClassRateLimited ErrorClass = "RATE_LIMITED"
	ClassBadRequest  ErrorClass = "BAD_REQUEST"
	ClassTimeout     ErrorClass = "TIMEOUT"
	ClassGeneric     ErrorClass = "GENERIC"
)

// CallError is the structured error returned by the call client.
type CallError struct {
	Class      ErrorClass
	Backend    ID
	StatusCode int
	Message    string
	Attempts   int
	// RetryAfter is a recommended cool-down before the caller repeats
	// the whole operation. Only set for ClassRateLimited.
	RetryAfter time.Duration
	Timestamp  time.Time
}

func (e *CallError) Error() string {
	return fmt.Sprintf("backend %s: %s (%s, %d attempts)", e.Backend, e.Message, e.Class, e.Attempts)
}

// Retryable reports whether the call client may repeat the attempt.
// BadRequest is a caller error and RateLimited is handled one level up
// with its cool-down, so neither participates in the local retry loop.
func (e *CallError) Retryable() bool {
	switch e.Class {
	case ClassOverloaded, ClassTimeout, ClassGeneric:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusServiceUnavailable:
		return ClassOverloaded
	case http.StatusTooManyRequests:
		return ClassRateLimited
	case http.StatusBadRequest:
		return ClassBadRequest
	default:
		return ClassGeneric
	}
}

// ClassOf extracts the error class from err, or ClassGeneric when err
// is not a CallError.
func ClassOf(err error) ErrorClass {
	if ce, ok := err.(*CallError); ok {
		return ce.Class
	}
	return ClassGeneric
}
