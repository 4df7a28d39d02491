package crm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorClass is the typed error contract of the CRM client
type ErrorClass string

const (
	ClassNotFound    ErrorClass = "not-found"
	ClassDuplicate   ErrorClass = "duplicate"
	ClassRateLimited ErrorClass = "rate-limited"
	ClassTransient   ErrorClass = "transient"
	ClassPermanent   ErrorClass = "permanent"
)

// IsRetryable reports whether a later attempt may succeed
func (c ErrorClass) IsRetryable() bool {
	return c == ClassRateLimited || c == ClassTransient
}

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	return string(c)
}

var (
	ErrNotFound    = &Error{Class: ClassNotFound}
	ErrDuplicate   = &Error{Class: ClassDuplicate}
	ErrRateLimited = &Error{Class: ClassRateLimited}
	ErrTransient   = &Error{Class: ClassTransient}
	ErrPermanent   = &Error{Class: ClassPermanent}
)

// Error is returned by every Client call that fails
type Error struct {
	Class      ErrorClass
	Op         string
	StatusCode int
	// RetryAfter is the server-provided wait for rate-limited responses
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := "crm"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + string(e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the class sentinels above, so errors.Is(err, crm.ErrDuplicate) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.StatusCode == 0 && t.Err == nil && t.Class == e.Class
}

// NewError builds an *Error
func NewError(class ErrorClass, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of err. Deadlines and network timeouts are
// transient; anything unrecognised is permanent so it is never retried blindly.
func ClassOf(err error) ErrorClass {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassPermanent
}

// RetryAfterOf returns the server-provided wait carried by err, if any
func RetryAfterOf(err error) time.Duration {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}
