// Package money converts between OrderCloud decimal amounts and int64 minor units.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/currency"
)

// DefaultScale applies when no currency is known.
const DefaultScale = 2

var (
	// ErrInvalidAmount is returned for values that are not decimal numbers.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrAmountOutOfRange is returned when the minor-unit value does not fit in int64.
	ErrAmountOutOfRange = errors.New("money: amount out of range")
	// ErrPrecision is returned by ExactMinor when the amount has more decimals than the currency.
	ErrPrecision = errors.New("money: amount exceeds currency precision")
	// ErrUnknownCurrency is returned for codes that are not ISO 4217.
	ErrUnknownCurrency = errors.New("money: unknown currency")
)

// Scale returns the number of minor-unit digits for an ISO 4217 code. A blank code uses DefaultScale.
func Scale(code string) (int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DefaultScale, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// ToMinor converts a decimal amount to minor units of code, rounding half away from zero.
// An empty number is zero.
func ToMinor(amount json.Number, code string) (int64, error) {
	value, raw, err := scaled(amount, code)
	if err != nil || value == nil {
		return 0, err
	}
	quo, rem := new(big.Int).QuoRem(value.Num(), value.Denom(), new(big.Int))
	// |rem|*2 >= denom rounds away from zero.
	if new(big.Int).Mul(new(big.Int).Abs(rem), big.NewInt(2)).Cmp(value.Denom()) >= 0 {
		if value.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return toInt64(quo, raw)
}

// ExactMinor converts a decimal amount to minor units of code and rejects values carrying more
// decimal places than the currency allows. An empty number is zero.
func ExactMinor(amount json.Number, code string) (int64, error) {
	value, raw, err := scaled(amount, code)
	if err != nil || value == nil {
		return 0, err
	}
	if !value.IsInt() {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, raw)
	}
	return toInt64(value.Num(), raw)
}

// scaled parses amount and multiplies it by the currency's minor-unit factor. A nil value means
// the amount was empty.
func scaled(amount json.Number, code string) (*big.Rat, string, error) {
	scale, err := Scale(code)
	if err != nil {
		return nil, "", err
	}
	raw := strings.TrimSpace(amount.String())
	if raw == "" {
		return nil, "", nil
	}
	value, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, raw, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return value.Mul(value, new(big.Rat).SetInt(pow10(scale))), raw, nil
}

func toInt64(v *big.Int, raw string) (int64, error) {
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, raw)
	}
	return v.Int64(), nil
}

// FromMinor renders minor units of code as a decimal number with the currency's scale.
func FromMinor(minor int64, code string) (json.Number, error) {
	scale, err := Scale(code)
	if err != nil {
		return "", err
	}
	if scale == 0 {
		return json.Number(big.NewInt(minor).String()), nil
	}
	value := new(big.Rat).SetFrac(big.NewInt(minor), pow10(scale))
	return json.Number(value.FloatString(scale)), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
