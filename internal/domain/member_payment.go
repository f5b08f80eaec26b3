package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod identifies how a member settles their share.
type PaymentMethod string

const (
	PaymentMethodOnline         PaymentMethod = "online"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// MemberPaymentStatus tracks a single payment attempt.
type MemberPaymentStatus string

const (
	MemberPaymentPending        MemberPaymentStatus = "pending"
	MemberPaymentPaidOnline     MemberPaymentStatus = "paid_online"
	MemberPaymentCommittedToCOD MemberPaymentStatus = "committed_to_cod"
	MemberPaymentFailed         MemberPaymentStatus = "failed"
)

// MemberPayment is one payment attempt by a member for a specific quote.
// Failed attempts stay in the cart's history; a later attempt supersedes them.
type MemberPayment struct {
	ID                  string
	UserID              string
	Amount              Money
	Method              PaymentMethod
	Status              MemberPaymentStatus
	OnlineTransactionID string
	QuoteVersion        int64
	Attempt             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func newMemberPayment(id, userID string, amount Money, method PaymentMethod, quoteVersion int64, attempt int, now time.Time) (MemberPayment, error) {
	id = strings.TrimSpace(id)
	userID = strings.TrimSpace(userID)
	if id == "" || userID == "" {
		return MemberPayment{}, ErrInvalidInput.WithMessage("payment id and user id are required")
	}
	if !amount.IsPositive() {
		return MemberPayment{}, ErrInvalidAmount.WithMessage(fmt.Sprintf("payment amount %s must be positive", amount))
	}
	status := MemberPaymentPending
	if method == PaymentMethodCashOnDelivery {
		status = MemberPaymentCommittedToCOD
	}
	now = now.UTC()
	return MemberPayment{
		ID:           id,
		UserID:       userID,
		Amount:       amount,
		Method:       method,
		Status:       status,
		QuoteVersion: quoteVersion,
		Attempt:      attempt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewCashOnDeliveryPayment creates a payment that is complete on creation.
func NewCashOnDeliveryPayment(id, userID string, amount Money, quoteVersion int64, attempt int, now time.Time) (MemberPayment, error) {
	return newMemberPayment(id, userID, amount, PaymentMethodCashOnDelivery, quoteVersion, attempt, now)
}

// NewOnlinePayment creates a pending payment awaiting gateway confirmation for the given intent.
func NewOnlinePayment(id, userID string, amount Money, intentID string, quoteVersion int64, attempt int, now time.Time) (MemberPayment, error) {
	payment, err := newMemberPayment(id, userID, amount, PaymentMethodOnline, quoteVersion, attempt, now)
	if err != nil {
		return MemberPayment{}, err
	}
	payment.OnlineTransactionID = strings.TrimSpace(intentID)
	return payment, nil
}

// IsComplete reports whether the member's obligation is settled.
func (p MemberPayment) IsComplete() bool {
	return p.Status == MemberPaymentPaidOnline || p.Status == MemberPaymentCommittedToCOD
}

// HasFailed reports whether the attempt failed.
func (p MemberPayment) HasFailed() bool {
	return p.Status == MemberPaymentFailed
}

// MarkAsPaidOnline moves a pending online payment to PaidOnline. Repeating the call with the
// same transaction id is a no-op and reports changed=false.
func (p *MemberPayment) MarkAsPaidOnline(transactionID string, now time.Time) (bool, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return false, ErrPaymentTransactionMissing
	}
	switch p.Status {
	case MemberPaymentPaidOnline:
		if p.OnlineTransactionID == transactionID {
			return false, nil
		}
		return false, ErrPaymentTransactionClash.WithMessage(fmt.Sprintf("payment %s already settled by %s", p.ID, p.OnlineTransactionID))
	case MemberPaymentPending:
		if p.Method != PaymentMethodOnline {
			return false, ErrPaymentInvalidTransition
		}
		p.Status = MemberPaymentPaidOnline
		p.OnlineTransactionID = transactionID
		p.UpdatedAt = now.UTC()
		return true, nil
	default:
		return false, ErrPaymentInvalidTransition.WithMessage(fmt.Sprintf("cannot mark %s payment as paid", p.Status))
	}
}

// MarkAsFailed moves a pending payment to Failed. Failing an already failed payment is a no-op.
func (p *MemberPayment) MarkAsFailed(now time.Time) (bool, error) {
	switch p.Status {
	case MemberPaymentFailed:
		return false, nil
	case MemberPaymentPending:
		p.Status = MemberPaymentFailed
		p.UpdatedAt = now.UTC()
		return true, nil
	default:
		return false, ErrPaymentInvalidTransition.WithMessage(fmt.Sprintf("cannot fail %s payment", p.Status))
	}
}

// Reopen moves a failed online payment back to Pending, used when the gateway retries the same intent.
func (p *MemberPayment) Reopen(now time.Time) error {
	if p.Status != MemberPaymentFailed || p.Method != PaymentMethodOnline {
		return ErrPaymentInvalidTransition.WithMessage(fmt.Sprintf("cannot reopen %s payment", p.Status))
	}
	p.Status = MemberPaymentPending
	p.UpdatedAt = now.UTC()
	return nil
}
