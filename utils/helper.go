package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

var decimalHundred = decimal.NewFromInt(100)

// LineTotal computes price * qty * (1 - discount%/100), quantized to 2dp.
func LineTotal(price, qty, discountPercent decimal.Decimal) decimal.Decimal {
	dp := discountPercent.Div(decimalHundred)
	return price.Mul(qty).Mul(decimal.NewFromInt(1).Sub(dp)).Round(2)
}

// QuantizeQty rounds to the 4-decimal storage precision of stock quantities.
func QuantizeQty(qty decimal.Decimal) decimal.Decimal {
	return qty.Round(4)
}

// QuantizeMoney rounds to the 2-decimal storage precision of money amounts.
func QuantizeMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// IsWholeNumber reports whether qty has no fractional part.
func IsWholeNumber(qty decimal.Decimal) bool {
	return qty.Equal(qty.Truncate(0))
}

// DayOf truncates a timestamp to its calendar date in UTC. Document number
// sequences are scoped per day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
