package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// UnknownMarket is reported for orders shipped without a country.
const UnknownMarket = "unknown"

// Order is the aggregate root of the lifecycle: items, payment and refunds are
// owned by it and written together.
type Order struct {
	ID            string
	CustomerID    string
	Status        Status
	Items         []Item
	Subtotal      decimal.Decimal
	DiscountCode  string
	CampaignID    string
	DiscountValue decimal.Decimal
	Total         decimal.Decimal
	Shipping      ShippingAddress
	Payment       Payment
	Refunds       []Refund
	// Version increases by one on every successful write.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item represents a single line item in an order. Price is the unit price at
// order time and never changes afterwards.
type Item struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Category  string          `json:"category,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// LineTotal is price × quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is the delivery destination of an order.
type ShippingAddress struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// ItemsSubtotal sums the line totals.
func (o *Order) ItemsSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// CheckTotal verifies Total == Σ(price × quantity) − DiscountValue.
func (o *Order) CheckTotal() error {
	subtotal := o.ItemsSubtotal()
	if !subtotal.Equal(o.Subtotal) {
		return errors.Wrapf(ErrTotalMismatch, "order %s subtotal %s, items sum %s", o.ID, o.Subtotal, subtotal)
	}
	if want := subtotal.Sub(o.DiscountValue); !want.Equal(o.Total) {
		return errors.Wrapf(ErrTotalMismatch, "order %s total %s, expected %s", o.ID, o.Total, want)
	}
	return nil
}

// Units is the total quantity across items.
func (o *Order) Units() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// CountsAsRevenue reports whether the order contributes to revenue totals.
// Cancelled orders never do.
func (o *Order) CountsAsRevenue() bool {
	return o.Status != StatusCancelled
}

// RefundedAmount sums the refunds recorded for the order.
func (o *Order) RefundedAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range o.Refunds {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// Market is the shipping country, or UnknownMarket.
func (o *Order) Market() string {
	if o.Shipping.Country == "" {
		return UnknownMarket
	}
	return o.Shipping.Country
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	if o.Items != nil {
		items := make([]Item, len(o.Items))
		copy(items, o.Items)
		o.Items = items
	}
	if o.Refunds != nil {
		refunds := make([]Refund, len(o.Refunds))
		copy(refunds, o.Refunds)
		o.Refunds = refunds
	}
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		o.Payment.PaidAt = &t
	}
	return o
}

// Filter selects orders from the store. Empty fields match everything.
type Filter struct {
	CustomerID string
	Statuses   []Status
	// CreatedFrom is inclusive, CreatedTo exclusive.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Match reports whether o satisfies the filter.
func (f Filter) Match(o *Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == o.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && !o.CreatedAt.Before(*f.CreatedTo) {
		return false
	}
	return true
}

// StockDelta adjusts the stock of a product or variant. Positive values add
// stock back.
type StockDelta struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Update is a conditional write of an existing order.
type Update struct {
	Order           *Order
	ExpectedVersion int64
	Restock         []StockDelta
}

// Repository is the order entity store contract.
//
// Create persists a new order together with its items and payment, decrements
// stock for every item and redeems the discount code in one atomic unit.
// Update writes the order only if its stored version equals ExpectedVersion,
// otherwise it returns ErrConcurrentModification. Both set Order.Version to the
// stored value on success. List returns orders sorted by creation time.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, u Update) error
	List(ctx context.Context, f Filter) ([]Order, error)
}
