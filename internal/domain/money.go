package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantize truncates d to the currency's configured fractional precision.
// Truncation, never rounding: the ledger must not invent dust.
func Quantize(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Truncate(precision)
}

// SmallestUnit returns the smallest representable amount at the given
// precision, e.g. 1e-8 for precision 8.
func SmallestUnit(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}

// WithdrawalFee computes the fee for a withdrawal of amount under the given
// policy. Percent fees are expressed as a percentage (1.5 means 1.5%).
func WithdrawalFee(amount, fee decimal.Decimal, feeType string, precision int32) (decimal.Decimal, error) {
	switch feeType {
	case FeeTypeFixed, "":
		return Quantize(fee, precision), nil
	case FeeTypePercent:
		return Quantize(amount.Mul(fee).Div(decimal.NewFromInt(100)), precision), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown fee type %q", feeType)
	}
}

// FormatAmount renders an amount at the currency's precision for API
// responses and event payloads.
func FormatAmount(d decimal.Decimal, precision int32) string {
	return d.StringFixed(precision)
}
