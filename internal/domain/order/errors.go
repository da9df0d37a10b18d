package order

import (
	"fmt"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// Sentinel errors for order operations.
var (
	ErrNotFound               = apperr.New(apperr.KindNotFound, "order not found")
	ErrConcurrentModification = apperr.New(apperr.KindConcurrentModification, "order was modified concurrently")
	ErrEmptyItems             = apperr.New(apperr.KindValidation, "items required")
	ErrTotalMismatch          = apperr.New(apperr.KindInternal, "order total does not match items and discount")
)

// ProductNotFoundError indicates a requested product or variant does not exist.
type ProductNotFoundError struct {
	ProductID string
	VariantID string
}

func (e *ProductNotFoundError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("product %s variant %s not found", e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Kind implements apperr.Kinded.
func (e *ProductNotFoundError) Kind() apperr.Kind { return apperr.KindNotFound }

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Kind implements apperr.Kinded.
func (e *InvalidQuantityError) Kind() apperr.Kind { return apperr.KindValidation }

// InsufficientStockError reports a line item that cannot be fulfilled.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	id := e.ProductID
	if e.VariantID != "" {
		id += "/" + e.VariantID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", id, e.Requested, e.Available)
}

// Kind implements apperr.Kinded.
func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.KindInsufficientStock }

// InvalidTransitionError reports a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Kind implements apperr.Kinded.
func (e *InvalidTransitionError) Kind() apperr.Kind { return apperr.KindInvalidTransition }

// InvalidPaymentTransitionError reports a payment status change that is not allowed.
type InvalidPaymentTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *InvalidPaymentTransitionError) Error() string {
	return fmt.Sprintf("cannot move payment from %s to %s", e.From, e.To)
}

// Kind implements apperr.Kinded.
func (e *InvalidPaymentTransitionError) Kind() apperr.Kind { return apperr.KindInvalidTransition }
