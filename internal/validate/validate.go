// Package validate holds the input predicates shared by every billing
// operation. Each predicate returns nil or a validation error naming the
// offending field.
package validate

import (
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/amerfu/bllm/internal/errs"
	"github.com/amerfu/bllm/internal/money"
)

var (
	userIDPattern        = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
	modelIDPattern       = regexp.MustCompile(`^[A-Za-z0-9_.\-]{2,64}$`)
	reservationIDPattern = regexp.MustCompile(`^res:[A-Za-z0-9_-]{3,64}:[A-Za-z0-9_-]{3,64}:\d+$`)
	currencyPattern      = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// UserID checks the user identifier format.
func UserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return errs.Validation("user_id", "must match ^[A-Za-z0-9_-]{3,64}$")
	}
	return nil
}

// ModelID checks the model identifier format.
func ModelID(id string) error {
	if !modelIDPattern.MatchString(id) {
		return errs.Validation("model", "must match ^[A-Za-z0-9_.-]{2,64}$")
	}
	return nil
}

// ReservationID checks the res:<user>:<request>:<epoch> shape.
func ReservationID(id string) error {
	if !reservationIDPattern.MatchString(id) {
		return errs.Validation("reservation_id", "malformed reservation id")
	}
	return nil
}

// RequestID checks a caller-supplied request identifier, which becomes the
// middle segment of a reservation id.
func RequestID(id string) error {
	if !userIDPattern.MatchString(id) {
		return errs.Validation("request_id", "must match ^[A-Za-z0-9_-]{3,64}$")
	}
	return nil
}

// Amount checks a caller-supplied monetary amount: strictly positive, below
// one million, and representable at ledger granularity.
func Amount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return errs.Validation(field, "must be positive")
	}
	if d.GreaterThanOrEqual(money.MaxAmount) {
		return errs.Validation(field, "must be below 1000000")
	}
	if !money.Exact(d) {
		return errs.Validation(field, "more than 5 fractional digits")
	}
	return nil
}

// TokensPositive checks a strictly positive token count.
func TokensPositive(field string, n int64) error {
	if n <= 0 {
		return errs.Validation(field, "must be positive")
	}
	return nil
}

// TokensNonNegative checks a non-negative token count.
func TokensNonNegative(field string, n int64) error {
	if n < 0 {
		return errs.Validation(field, "must be non-negative")
	}
	return nil
}

// Currency checks a three-letter currency code.
func Currency(code string) error {
	if !currencyPattern.MatchString(code) {
		return errs.Validation("currency", "must be three alphabetic characters")
	}
	return nil
}

// Endpoint checks the endpoint discriminator.
func Endpoint(endpoint string) error {
	if endpoint != "chat" && endpoint != "embed" {
		return errs.Validation("endpoint", "must be chat or embed")
	}
	return nil
}
