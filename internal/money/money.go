// Package money fixes the monetary representation for the ledger: exact
// decimal arithmetic in process, scaled integers in the substrate. All
// amounts are USD. Binary floating point never touches a money path.
package money

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits the ledger resolves. One scaled
// unit is 10^-5 USD; every persisted balance is an int64 count of such units
// so the substrate can compare and mutate balances with integer arithmetic.
const Scale = 5

// MaxAmount bounds every caller-supplied amount (exclusive).
var MaxAmount = decimal.NewFromInt(1_000_000)

// Quantize rounds d half-up to the ledger granularity of 10^-5.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Exact reports whether d is representable at ledger granularity, i.e. it
// carries no information beyond five fractional digits.
func Exact(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// ToScaled converts d to scaled units. d must already be exact; callers
// validate before converting.
func ToScaled(d decimal.Decimal) int64 {
	return d.Shift(Scale).IntPart()
}

// FromScaled converts a scaled unit count back to a decimal amount.
func FromScaled(n int64) decimal.Decimal {
	return decimal.New(n, -Scale)
}

// Parse parses a decimal amount from its string form.
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
