package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	MethodCOD    PaymentMethod = "cod"
	MethodUPI    PaymentMethod = "upi"
	MethodCard   PaymentMethod = "card"
	MethodWallet PaymentMethod = "wallet"
)

// PaymentMethods returns all methods in canonical order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{MethodCOD, MethodUPI, MethodCard, MethodWallet}
}

// ParsePaymentMethod validates a payment method name.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case MethodCOD, MethodUPI, MethodCard, MethodWallet:
		return m, nil
	default:
		return "", apperr.Validation("payment_method", "unknown payment method %q", s)
	}
}

// PaymentStatus is the capture state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentStatuses returns all payment statuses in canonical order.
func PaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded}
}

// ParsePaymentStatus validates a payment status name.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(s)
	switch ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return ps, nil
	default:
		return "", apperr.Validation("payment_status", "unknown payment status %q", s)
	}
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentPaid, PaymentFailed},
	PaymentFailed:   {PaymentPaid, PaymentFailed},
	PaymentPaid:     {PaymentRefunded},
	PaymentRefunded: nil,
}

// CanBecome reports whether a payment in status s may move to target.
func (s PaymentStatus) CanBecome(target PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Payment is the single payment record of an order. Retries update Attempts.
type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	Amount        decimal.Decimal
	Attempts      int
	PaidAt        *time.Time
}

// Captured reports whether money was collected at some point.
func (p Payment) Captured() bool {
	return p.Status == PaymentPaid || p.Status == PaymentRefunded
}

// RefundReason categorizes why money went back to the customer.
type RefundReason string

const (
	ReasonCancelled      RefundReason = "cancelled"
	ReasonReturned       RefundReason = "returned"
	ReasonDefective      RefundReason = "defective"
	ReasonWrongItem      RefundReason = "wrong_item"
	ReasonNotAsDescribed RefundReason = "not_as_described"
	ReasonOther          RefundReason = "other"
)

// RefundReasons returns all reasons in canonical order.
func RefundReasons() []RefundReason {
	return []RefundReason{ReasonCancelled, ReasonReturned, ReasonDefective, ReasonWrongItem, ReasonNotAsDescribed, ReasonOther}
}

// ParseRefundReason validates a refund reason. The empty string is accepted
// and means "derive from the transition".
func ParseRefundReason(s string) (RefundReason, error) {
	if s == "" {
		return "", nil
	}
	for _, r := range RefundReasons() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", apperr.Validation("reason", "unknown refund reason %q", s)
}

// Refund is an append-only record of money returned for an order.
type Refund struct {
	ID        string
	Amount    decimal.Decimal
	Reason    RefundReason
	CreatedAt time.Time
}
