package services

import "errors"

// ErrorKind classifies service errors for transport mapping.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindConflict
	KindNotFound
	KindProcessor
)

// Error is a named service outcome. Code is stable and safe to return to
// callers verbatim.
type Error struct {
	Code string
	Kind ErrorKind
}

func (e *Error) Error() string {
	return e.Code
}

func newError(kind ErrorKind, code string) *Error {
	return &Error{Code: code, Kind: kind}
}

// Creation validation.
var (
	ErrAmountNotWholeNumber   = newError(KindValidation, "GIFT_AMOUNT_NOT_WHOLE_NUMBER")
	ErrAmountUnder100         = newError(KindValidation, "GIFT_AMOUNT_UNDER_100")
	ErrAmountOver500K         = newError(KindValidation, "GIFT_AMOUNT_OVER_500K")
	ErrSenderNameNotString    = newError(KindValidation, "SENDER_NAME_NOT_STRING")
	ErrSenderNameBadLength    = newError(KindValidation, "SENDER_NAME_BAD_LENGTH")
	ErrSenderMessageNotString = newError(KindValidation, "SENDER_MESSAGE_NOT_STRING")
	ErrSenderMessageBadLength = newError(KindValidation, "SENDER_MESSAGE_BAD_LENGTH")
	ErrNotifyBadURL           = newError(KindValidation, "NOTIFY_BAD_URL")
	ErrVerifyCodeNotNumber    = newError(KindValidation, "VERIFY_CODE_NOT_NUMBER")
	ErrVerifyCodeBadLength    = newError(KindValidation, "VERIFY_CODE_BAD_LENGTH")
)

// Redemption validation.
var (
	ErrMalformedInvoice = newError(KindValidation, "MALFORMED_INVOICE")
	ErrBadInvoiceAmount = newError(KindValidation, "BAD_INVOICE_AMOUNT")
	ErrBadVerifyCode    = newError(KindValidation, "BAD_VERIFY_CODE")
)

// Lifecycle conflicts.
var (
	ErrGiftSpent         = newError(KindConflict, "GIFT_SPENT")
	ErrGiftRedeemPending = newError(KindConflict, "GIFT_REDEEM_PENDING")
	ErrGiftInvoiceUnpaid = newError(KindConflict, "GIFT_INVOICE_UNPAID")
	ErrGiftNotPending    = newError(KindConflict, "GIFT_NOT_PENDING")
	ErrStaleWithdrawal   = newError(KindConflict, "STALE_WITHDRAWAL")
)

var (
	ErrGiftNotFound       = newError(KindNotFound, "GIFT_NOT_FOUND")
	ErrChargeNotFound     = newError(KindNotFound, "CHARGE_NOT_FOUND")
	ErrWithdrawalNotFound = newError(KindNotFound, "WITHDRAWAL_NOT_FOUND")
)

var (
	ErrProcessor                = newError(KindProcessor, "PROCESSOR_ERROR")
	ErrWithdrawalOutcomeUnknown = newError(KindProcessor, "WITHDRAWAL_OUTCOME_UNKNOWN")
)

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
