// Package errs defines the error taxonomy shared by the billing core and the
// transport layer. The core never recovers from these errors; it annotates
// them with a machine code and returns them to the caller. The transport
// adapter maps the canonical codes to wire status codes in exactly one place.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for monitoring and transport mapping.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindBalance     Kind = "balance"
	KindReservation Kind = "reservation"
	KindPricing     Kind = "pricing"
	KindExternal    Kind = "external"
)

// Canonical machine codes surfaced to RPC callers.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

// Machine-readable reasons carried alongside FAILED_PRECONDITION.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonAlreadyCommitted    = "already_committed"
	ReasonReservationExists   = "reservation_exists"
)

// Error is the typed error returned by every billing operation.
type Error struct {
	Kind    Kind
	Code    string // canonical machine code
	Message string
	Field   string // offending field, validation errors only
	Reason  string // machine-readable detail, e.g. insufficient_balance
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Auth constructs an UNAUTHENTICATED error.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Code: CodeUnauthenticated, Message: message}
}

// Validation constructs an INVALID_ARGUMENT error naming the offending field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidArgument, Field: field, Message: message}
}

// InsufficientBalance constructs the FAILED_PRECONDITION error returned when
// a debit would drive a balance below zero.
func InsufficientBalance(message string) *Error {
	return &Error{Kind: KindBalance, Code: CodeFailedPrecondition, Reason: ReasonInsufficientBalance, Message: message}
}

// ReservationNotFound covers missing and TTL-expired reservations.
func ReservationNotFound(message string) *Error {
	return &Error{Kind: KindReservation, Code: CodeNotFound, Message: message}
}

// ReservationConflict covers already-committed reservations and creation
// conflicts on an existing id.
func ReservationConflict(reason, message string) *Error {
	return &Error{Kind: KindReservation, Code: CodeFailedPrecondition, Reason: reason, Message: message}
}

// Pricing constructs the FAILED_PRECONDITION error for unknown models or
// endpoints and for invalid pricing data from a feed.
func Pricing(message string) *Error {
	return &Error{Kind: KindPricing, Code: CodeFailedPrecondition, Message: message}
}

// External wraps a substrate or feed failure as INTERNAL.
func External(message string, cause error) *Error {
	return &Error{Kind: KindExternal, Code: CodeInternal, Message: message, cause: cause}
}

// As extracts a typed *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the canonical machine code for err. Untyped errors coerce
// to INTERNAL so internal details never leak across the RPC boundary.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsClientError reports whether err is the caller's fault. Client errors are
// returned unretried; everything else is retryable from the caller's side.
func IsClientError(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind != KindExternal
}
