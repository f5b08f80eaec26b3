package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var paymentNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCashOnDeliveryPaymentIsCompleteOnCreation(t *testing.T) {
	p, err := NewCashOnDeliveryPayment("pay_1", "user_1", MustMoney("12.50", "USD"), 1, 1, paymentNow)
	require.NoError(t, err)
	require.Equal(t, MemberPaymentCommittedToCOD, p.Status)
	require.True(t, p.IsComplete())

	_, err = p.MarkAsPaidOnline("pi_1", paymentNow)
	require.ErrorIs(t, err, ErrPaymentInvalidTransition)
}

func TestMemberPaymentRequiresPositiveAmount(t *testing.T) {
	_, err := NewOnlinePayment("pay_1", "user_1", Zero("USD"), "pi_1", 1, 1, paymentNow)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMarkAsPaidOnlineIsIdempotent(t *testing.T) {
	p, err := NewOnlinePayment("pay_1", "user_1", MustMoney("10", "USD"), "pi_1", 1, 1, paymentNow)
	require.NoError(t, err)

	changed, err := p.MarkAsPaidOnline("pi_1", paymentNow)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = p.MarkAsPaidOnline("pi_1", paymentNow.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, paymentNow, p.UpdatedAt)

	_, err = p.MarkAsPaidOnline("pi_other", paymentNow)
	require.ErrorIs(t, err, ErrPaymentTransactionClash)
}

func TestMarkAsFailedNeverDowngradesSuccess(t *testing.T) {
	p, err := NewOnlinePayment("pay_1", "user_1", MustMoney("10", "USD"), "pi_1", 1, 1, paymentNow)
	require.NoError(t, err)
	_, err = p.MarkAsPaidOnline("pi_1", paymentNow)
	require.NoError(t, err)

	_, err = p.MarkAsFailed(paymentNow)
	require.ErrorIs(t, err, ErrPaymentInvalidTransition)
	require.Equal(t, MemberPaymentPaidOnline, p.Status)
}

func TestFailedPaymentCanBeReopened(t *testing.T) {
	p, err := NewOnlinePayment("pay_1", "user_1", MustMoney("10", "USD"), "pi_1", 1, 1, paymentNow)
	require.NoError(t, err)

	changed, err := p.MarkAsFailed(paymentNow)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = p.MarkAsFailed(paymentNow)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, p.Reopen(paymentNow))
	require.Equal(t, MemberPaymentPending, p.Status)
	require.Error(t, p.Reopen(paymentNow))
}
