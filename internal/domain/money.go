package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when a zero amount must be produced without any priced input.
const DefaultCurrency = "JPY"

// Money is an exact decimal amount tagged with an ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency.WithMessage(fmt.Sprintf("currency %q must be a 3-letter ISO code", code))
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", ErrInvalidCurrency.WithMessage(fmt.Sprintf("currency %q is not a recognised ISO code", code))
	}
	return code, nil
}

// NewMoney validates the currency and returns a Money value.
func NewMoney(amount decimal.Decimal, code string) (Money, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: normalized}, nil
}

// MustMoney parses the amount string and panics on invalid input. Intended for tests and constants.
func MustMoney(amount string, code string) Money {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := NewMoney(value, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(code string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(strings.TrimSpace(code))}
}

// MoneyFromMinorUnits converts an integer amount of minor units (e.g. cents) into Money.
func MoneyFromMinorUnits(units int64, code string) (Money, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: decimal.New(units, -currencyScale(normalized)), Currency: normalized}, nil
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. The result may be negative.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul scales the amount by a decimal factor without rounding.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// MulInt scales the amount by an integer quantity.
func (m Money) MulInt(quantity int64) Money {
	return m.Mul(decimal.NewFromInt(quantity))
}

// Round rounds half away from zero to the currency's minor unit.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(currencyScale(m.Currency)), Currency: m.Currency}
}

// MinorUnits returns the amount expressed in integer minor units after rounding.
func (m Money) MinorUnits() int64 {
	scale := currencyScale(m.Currency)
	return m.Amount.Round(scale).Shift(scale).IntPart()
}

// ClampZero returns zero when the amount is negative.
func (m Money) ClampZero() Money {
	if m.Amount.IsNegative() {
		return Zero(m.Currency)
	}
	return m
}

// Min returns the smaller of two amounts in the same currency.
func (m Money) Min(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount.LessThan(m.Amount) {
		return other, nil
	}
	return m, nil
}

// IsZero reports whether the amount equals zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// IsNegative reports whether the amount is strictly below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Equal reports whether both values carry the same currency and numerically equal amounts.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders the amount with its currency, e.g. "31.98 USD".
func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return ErrCurrencyMismatch.WithMessage(fmt.Sprintf("cannot combine %s with %s", m.Currency, other.Currency))
	}
	return nil
}

// SumMoney adds all values, returning zero in the given currency for an empty slice.
func SumMoney(code string, values ...Money) (Money, error) {
	total := Zero(code)
	for _, value := range values {
		next, err := total.Add(value)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// CurrencyScale exposes the number of minor-unit digits for a currency (2 for USD, 0 for JPY).
func CurrencyScale(code string) int32 {
	return currencyScale(strings.ToUpper(strings.TrimSpace(code)))
}

func currencyScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}
