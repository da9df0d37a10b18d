package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
	// MinThreshold overrides the global low-stock threshold when set.
	MinThreshold *int
	Variants     []Variant
}

// Variant is a purchasable option of a product with its own stock.
type Variant struct {
	ID    string
	Name  string
	Price *decimal.Decimal // nil inherits the product price
	Stock int
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// UnitPrice returns the price charged for one unit of the product or of the
// given variant.
func (p *Product) UnitPrice(variantID string) decimal.Decimal {
	if v, ok := p.Variant(variantID); ok && v.Price != nil {
		return *v.Price
	}
	return p.Price
}

// Available returns the stock available for the product or variant. The
// second result is false when variantID names an unknown variant.
func (p *Product) Available(variantID string) (int, bool) {
	if variantID == "" {
		return p.TotalStock(), true
	}
	v, ok := p.Variant(variantID)
	if !ok {
		return 0, false
	}
	return v.Stock, true
}

// TotalStock is the product stock, or the sum of variant stocks when the
// product has variants.
func (p *Product) TotalStock() int {
	if len(p.Variants) == 0 {
		return p.Stock
	}
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	return total
}

// Clone returns a deep copy of p.
func (p Product) Clone() Product {
	if p.MinThreshold != nil {
		v := *p.MinThreshold
		p.MinThreshold = &v
	}
	if p.Variants != nil {
		vs := make([]Variant, len(p.Variants))
		copy(vs, p.Variants)
		p.Variants = vs
	}
	return p
}

// Repository defines read operations for the product catalog. Stock is
// mutated only by the order store as part of an order write.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
