package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the eligible subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the eligible subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of the cheapest eligible unit.
	DiscountFreeLowest DiscountType = "free_lowest"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeLowest:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidCoupon is returned when a coupon code is not found.
	ErrInvalidCoupon = apperr.New(apperr.KindInvalidDiscount, "invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = apperr.New(apperr.KindInvalidDiscount, "coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = apperr.New(apperr.KindInvalidDiscount, "coupon usage limit reached")
	// ErrCouponNotApplicable is returned when the cart does not satisfy the
	// coupon's item requirements or contains no eligible items.
	ErrCouponNotApplicable = apperr.New(apperr.KindInvalidDiscount, "coupon not applicable to items")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	CampaignID   string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	// MaxDiscount caps the computed amount when positive.
	MaxDiscount decimal.Decimal
	// ProductIDs and Categories restrict the eligible items. Empty means all.
	ProductIDs []string
	Categories []string
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Code        string
	CampaignID  string
	Amount      decimal.Decimal
	Description string
}

// Item represents a line item in the cart for discount calculation purposes.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup of coupon rules. Redemption happens inside the
// order store's write so a failed order never consumes a use.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}
