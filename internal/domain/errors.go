package domain

// ErrorCode is a stable identifier for an expected business failure.
type ErrorCode string

// ErrorKind groups error codes by how callers are expected to react.
type ErrorKind int

const (
	// KindValidation marks caller errors that must not be retried automatically.
	KindValidation ErrorKind = iota
	// KindState marks business-rule conflicts such as wrong-status transitions.
	KindState
	// KindPermission marks actions attempted by a member lacking the required role.
	KindPermission
	// KindIntegrity marks reconciliation failures that need operator attention.
	KindIntegrity
	// KindNotFound marks references to entities missing from the aggregate.
	KindNotFound
)

// Error is the failure value returned by domain operations. Two errors match under errors.Is
// when their codes are equal, so callers may compare against the exported sentinels below
// even when the message was customised.
type Error struct {
	Code    ErrorCode
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of the error with a more specific message.
func (e *Error) WithMessage(message string) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

func newError(code ErrorCode, kind ErrorKind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

var (
	ErrInvalidCurrency  = newError("money.invalid_currency", KindValidation, "currency is invalid")
	ErrCurrencyMismatch = newError("money.currency_mismatch", KindValidation, "currencies do not match")
	ErrInvalidAmount    = newError("money.invalid_amount", KindValidation, "amount must be positive")

	ErrInvalidInput    = newError("validation.invalid_input", KindValidation, "invalid input")
	ErrInvalidQuantity = newError("validation.invalid_quantity", KindValidation, "quantity must be greater than zero")
	ErrInvalidName     = newError("validation.invalid_name", KindValidation, "name is required")

	ErrInvalidStatus          = newError("teamcart.invalid_status", KindState, "operation not allowed in the current cart status")
	ErrLockedOnly             = newError("teamcart.locked_only", KindState, "cart must be locked before financial changes")
	ErrPaymentsInProgress     = newError("teamcart.payments_in_progress", KindState, "financial changes are not allowed once payments have started")
	ErrCartEmpty              = newError("teamcart.empty", KindState, "cart has no items")
	ErrCartExpired            = newError("teamcart.expired", KindState, "cart has expired")
	ErrCartNotExpirable       = newError("teamcart.not_expirable", KindState, "cart deadline has not passed")
	ErrQuoteVersionMismatch   = newError("teamcart.quote_version_mismatch", KindState, "payment refers to a stale quote")
	ErrQuoteAmountMismatch    = newError("teamcart.quote_amount_mismatch", KindIntegrity, "payment amount does not match the member quote")
	ErrNotHost                = newError("teamcart.not_host", KindPermission, "only the host may perform this action")
	ErrNotMember              = newError("teamcart.not_member", KindPermission, "user is not a member of this cart")
	ErrNotItemOwner           = newError("teamcart.not_item_owner", KindPermission, "only the member who added the item may change it")
	ErrMemberNotFound         = newError("teamcart.member_not_found", KindNotFound, "member not found")
	ErrItemNotFound           = newError("teamcart.item_not_found", KindNotFound, "item not found")
	ErrMemberLimitReached     = newError("teamcart.member_limit", KindState, "cart has reached the member limit")
	ErrMemberQuoteMissing     = newError("teamcart.member_quote_missing", KindState, "member has no amount to pay")
	ErrMemberAlreadyCommitted = newError("teamcart.member_already_committed", KindState, "member payment is already committed")

	ErrPaymentInvalidTransition  = newError("payment.invalid_transition", KindState, "payment status transition not allowed")
	ErrPaymentTransactionMissing = newError("payment.transaction_id_required", KindValidation, "transaction id is required")
	ErrPaymentTransactionClash   = newError("payment.transaction_id_conflict", KindIntegrity, "payment already settled with another transaction")
	ErrPaymentNotFound           = newError("payment.not_found", KindNotFound, "no active payment for member")

	ErrCouponDisabled         = newError("coupon.disabled", KindValidation, "coupon is disabled")
	ErrCouponNotYetValid      = newError("coupon.not_yet_valid", KindValidation, "coupon is not yet valid")
	ErrCouponExpired          = newError("coupon.expired", KindValidation, "coupon has expired")
	ErrCouponMinimumNotMet    = newError("coupon.minimum_not_met", KindValidation, "order does not meet the coupon minimum")
	ErrCouponNotApplicable    = newError("coupon.not_applicable", KindValidation, "coupon does not apply to any item")
	ErrCouponUnsupportedType  = newError("coupon.unsupported_type", KindValidation, "coupon type is not supported")
	ErrCouponUsageLimit       = newError("coupon.usage_limit_reached", KindValidation, "coupon usage limit reached")
	ErrCouponMismatch         = newError("coupon.mismatch", KindValidation, "coupon does not match the cart")
	ErrCouponRestaurantScoped = newError("coupon.wrong_restaurant", KindValidation, "coupon belongs to another restaurant")

	ErrConversionNoItems          = newError("conversion.no_items", KindValidation, "no order items could be mapped")
	ErrConversionNoPayments       = newError("conversion.no_payments", KindIntegrity, "cannot convert without payments")
	ErrConversionInvalidPayment   = newError("conversion.invalid_payment_amount", KindIntegrity, "member payment amount is missing or invalid")
	ErrConversionPaymentMismatch  = newError("conversion.payment_mismatch", KindIntegrity, "collected payments do not match the order total")
	ErrConversionAdjustmentBounds = newError("conversion.adjustment_out_of_bounds", KindIntegrity, "payment adjustment factor exceeds the allowed deviation")
	ErrInvalidAddress             = newError("conversion.invalid_address", KindValidation, "delivery address is incomplete")
)
