package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name       string
		rule       *Rule
		items      []Item
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name:       "percentage 18% off $100 subtotal",
			rule:       &Rule{Code: "PCT18", DiscountType: DiscountPercentage, Value: d("18")},
			items:      []Item{{ProductID: "p1", Price: d("50"), Quantity: 2}},
			wantAmount: d("18"),
		},
		{
			name:       "percentage capped by max discount",
			rule:       &Rule{Code: "CAP", DiscountType: DiscountPercentage, Value: d("50"), MaxDiscount: d("15")},
			items:      []Item{{ProductID: "p1", Price: d("80"), Quantity: 1}},
			wantAmount: d("15"),
		},
		{
			name:       "percentage rounds to cents",
			rule:       &Rule{Code: "ODD", DiscountType: DiscountPercentage, Value: d("15")},
			items:      []Item{{ProductID: "p1", Price: d("9.99"), Quantity: 1}},
			wantAmount: d("1.50"),
		},
		{
			name:       "fixed $9 off $100 subtotal",
			rule:       &Rule{Code: "FLAT9", DiscountType: DiscountFixed, Value: d("9")},
			items:      []Item{{ProductID: "p1", Price: d("100"), Quantity: 1}},
			wantAmount: d("9"),
		},
		{
			name:       "fixed capped at subtotal",
			rule:       &Rule{Code: "BIG", DiscountType: DiscountFixed, Value: d("500")},
			items:      []Item{{ProductID: "p1", Price: d("20"), Quantity: 2}},
			wantAmount: d("40"),
		},
		{
			name: "free lowest takes cheapest unit",
			rule: &Rule{Code: "BOGO", DiscountType: DiscountFreeLowest, MinItems: 2},
			items: []Item{
				{ProductID: "p1", Price: d("30"), Quantity: 1},
				{ProductID: "p2", Price: d("12.5"), Quantity: 1},
			},
			wantAmount: d("12.5"),
		},
		{
			name:    "min items not met",
			rule:    &Rule{Code: "BOGO", DiscountType: DiscountFreeLowest, MinItems: 2},
			items:   []Item{{ProductID: "p1", Price: d("30"), Quantity: 1}},
			wantErr: ErrCouponNotApplicable,
		},
		{
			name: "product restriction discounts only eligible lines",
			rule: &Rule{Code: "P2", DiscountType: DiscountPercentage, Value: d("10"), ProductIDs: []string{"p2"}},
			items: []Item{
				{ProductID: "p1", Price: d("100"), Quantity: 1},
				{ProductID: "p2", Price: d("50"), Quantity: 2},
			},
			wantAmount: d("10"),
		},
		{
			name: "category restriction",
			rule: &Rule{Code: "SHOES", DiscountType: DiscountFixed, Value: d("5"), Categories: []string{"shoes"}},
			items: []Item{
				{ProductID: "p1", Category: "shoes", Price: d("3"), Quantity: 1},
				{ProductID: "p2", Category: "hats", Price: d("50"), Quantity: 1},
			},
			wantAmount: d("3"),
		},
		{
			name:    "unsupported type",
			rule:    &Rule{Code: "X", DiscountType: "bogus"},
			items:   []Item{{ProductID: "p1", Price: d("1"), Quantity: 1}},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.rule, tt.items)

			if tt.rule.DiscountType == "bogus" {
				require.ErrorContains(t, err, "unsupported discount type")
				return
			}
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount), "expected %s, got %s", tt.wantAmount, got.Amount)
			assert.Equal(t, tt.rule.Code, got.Code)
		})
	}
}
