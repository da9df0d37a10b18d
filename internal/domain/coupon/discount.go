package coupon

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount for the given rule and cart items.
// It returns ErrCouponNotApplicable when the cart does not satisfy the rule's
// minimum item count or contains no eligible item.
func Apply(rule *Rule, items []Item) (Discount, error) {
	eligible := eligibleItems(rule, items)
	if len(eligible) == 0 {
		return Discount{}, ErrCouponNotApplicable
	}
	if rule.MinItems > 0 && totalQuantity(eligible) < rule.MinItems {
		return Discount{}, ErrCouponNotApplicable
	}

	subtotal := calcSubtotal(eligible)

	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(rule.Value, subtotal)
	case DiscountFreeLowest:
		amount = findLowestUnitPrice(eligible)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	if rule.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, rule.MaxDiscount)
	}

	return Discount{
		Code:        rule.Code,
		CampaignID:  rule.CampaignID,
		Amount:      floorAtZero(amount).Round(2),
		Description: rule.Description,
	}, nil
}

// eligibleItems filters items by the rule's product and category restrictions.
func eligibleItems(rule *Rule, items []Item) []Item {
	if len(rule.ProductIDs) == 0 && len(rule.Categories) == 0 {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if slices.Contains(rule.ProductIDs, item.ProductID) || slices.Contains(rule.Categories, item.Category) {
			out = append(out, item)
		}
	}
	return out
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	sum := zero
	for _, item := range items {
		line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// totalQuantity returns the sum of quantities across all items.
func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// findLowestUnitPrice returns the lowest unit price among the given items.
// If items is empty it returns zero.
func findLowestUnitPrice(items []Item) decimal.Decimal {
	if len(items) == 0 {
		return zero
	}
	lowest := items[0].Price
	for _, item := range items[1:] {
		if item.Price.LessThan(lowest) {
			lowest = item.Price
		}
	}
	return lowest
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
