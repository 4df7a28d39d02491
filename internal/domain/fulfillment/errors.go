package fulfillment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrder       = errors.New("fulfillment: invalid order")
	ErrEmptyOrder         = errors.New("fulfillment: order has no line items")
	ErrTooManyGroups      = errors.New("fulfillment: order exceeds 26 fulfillment groups")
	ErrInvalidIdentifier  = errors.New("fulfillment: invalid identifier input")
	ErrPartitionViolation = errors.New("fulfillment: line items are not partitioned across groups")
	ErrDuplicateGroupID   = errors.New("fulfillment: duplicate group identifier")
	ErrInvalidTransition  = errors.New("fulfillment: invalid group status transition")
	ErrDealIDImmutable    = errors.New("fulfillment: external deal id already assigned")
	ErrOrderNotFound      = errors.New("fulfillment: order not found")
	ErrOrderExists        = errors.New("fulfillment: order already submitted")
	ErrGroupNotFound      = errors.New("fulfillment: fulfillment group not found")
	ErrOrderCancelled     = errors.New("fulfillment: order cancelled")
	ErrLabelMismatch      = errors.New("fulfillment: order label does not match derived label")
)

// ErrorClass is the failure taxonomy used for group and order outcomes
type ErrorClass string

const (
	ErrorClassNone              ErrorClass = ""
	ErrorClassValidation        ErrorClass = "validation"
	ErrorClassComplianceBlock   ErrorClass = "compliance-block"
	ErrorClassTransientExternal ErrorClass = "transient-external"
	ErrorClassPermanentExternal ErrorClass = "permanent-external"
	ErrorClassInternalInvariant ErrorClass = "internal-invariant"
)

// IsValid returns true if the class is one of the known classes
func (c ErrorClass) IsValid() bool {
	switch c {
	case ErrorClassValidation, ErrorClassComplianceBlock, ErrorClassTransientExternal,
		ErrorClassPermanentExternal, ErrorClassInternalInvariant:
		return true
	default:
		return false
	}
}

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	return string(c)
}

// ClassifiedError attaches an ErrorClass to an underlying error
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WithClass wraps err with class. A nil err stays nil.
func WithClass(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// Invariant builds an internal-invariant error wrapping base
func Invariant(base error, format string, args ...any) error {
	return &ClassifiedError{
		Class: ErrorClassInternalInvariant,
		Err:   fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...)),
	}
}

// Validation builds a validation error wrapping base
func Validation(base error, format string, args ...any) error {
	return &ClassifiedError{
		Class: ErrorClassValidation,
		Err:   fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...)),
	}
}

// ClassOf returns the class carried by err, or ErrorClassNone
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrorClassNone
}
