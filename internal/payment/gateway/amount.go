package gateway

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const defaultExponent = 2

var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"KWD": 3,
	"BHD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

// Exponent returns the number of minor-unit digits for an ISO 4217 code.
func Exponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return defaultExponent
}

// ToMinorUnits converts a major-unit amount, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	return ToMinorUnitsExp(amount, Exponent(currency))
}

func ToMinorUnitsExp(amount decimal.Decimal, exp int32) (int64, error) {
	minor := amount.Shift(exp).Round(0)
	if !minor.IsPositive() {
		return 0, paymentdomain.ErrInvalidAmount
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return FromMinorUnitsExp(minor, Exponent(currency))
}

func FromMinorUnitsExp(minor int64, exp int32) decimal.Decimal {
	return decimal.New(minor, -exp)
}

// FormatMinorUnits renders minor units with the currency's fixed precision.
func FormatMinorUnits(minor int64, currency string) string {
	exp := Exponent(currency)
	return FromMinorUnitsExp(minor, exp).StringFixed(exp)
}

// ExponentWith applies a per-currency override before the built-in table.
func ExponentWith(overrides map[string]int, currency string) int32 {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if exp, ok := overrides[code]; ok {
		return int32(exp)
	}
	return Exponent(code)
}
