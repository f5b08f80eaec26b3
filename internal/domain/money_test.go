package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	require.Equal(t, "USD", code)

	_, err = NormalizeCurrency("US")
	require.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = NormalizeCurrency("ZZZ")
	require.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	a := MustMoney("0.10", "USD")
	b := MustMoney("0.20", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.True(t, sum.Equal(MustMoney("0.30", "USD")), "got %s", sum)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.True(t, diff.IsNegative())
	require.True(t, diff.ClampZero().IsZero())
}

func TestMoneyRejectsMixedCurrency(t *testing.T) {
	_, err := MustMoney("1", "USD").Add(MustMoney("1", "EUR"))
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = SumMoney("USD", MustMoney("1", "USD"), MustMoney("1", "JPY"))
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoneyMinorUnits(t *testing.T) {
	cases := []struct {
		name  string
		money Money
		want  int64
	}{
		{name: "usd cents", money: MustMoney("31.98", "USD"), want: 3198},
		{name: "usd rounds half up", money: MustMoney("0.125", "USD"), want: 13},
		{name: "jpy has no minor unit", money: MustMoney("1500", "JPY"), want: 1500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.money.MinorUnits())
		})
	}

	back, err := MoneyFromMinorUnits(3198, "usd")
	require.NoError(t, err)
	require.True(t, back.Equal(MustMoney("31.98", "USD")))
}

func TestMoneyRoundAndScale(t *testing.T) {
	require.Equal(t, int32(2), CurrencyScale("USD"))
	require.Equal(t, int32(0), CurrencyScale("JPY"))

	m := MustMoney("10", "USD").Mul(decimal.RequireFromString("0.333"))
	require.Equal(t, "3.33", m.Round().Amount.StringFixed(2))
}

func TestMoneyMin(t *testing.T) {
	low, err := MustMoney("5", "USD").Min(MustMoney("3", "USD"))
	require.NoError(t, err)
	require.True(t, low.Equal(MustMoney("3", "USD")))
}

func TestDomainErrorMatchesByCode(t *testing.T) {
	err := ErrLockedOnly.WithMessage("cart is open")
	require.True(t, errors.Is(err, ErrLockedOnly))
	require.False(t, errors.Is(err, ErrInvalidStatus))
	require.Equal(t, "teamcart.locked_only: cart is open", err.Error())
}
