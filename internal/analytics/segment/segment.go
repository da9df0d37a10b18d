// Package segment classifies customers and products into named segments
// over a snapshot of orders. All thresholds come from Config.
package segment

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// Config holds the classification thresholds.
type Config struct {
	// LoyalThreshold is the lifetime order count that makes a customer loyal.
	LoyalThreshold int
	// SlowMovingDays is how long a product in stock may go without a sale.
	SlowMovingDays int
	// LowStockThreshold applies to products without their own MinThreshold.
	LowStockThreshold int
	// TopLimit is how many ranked products are top-selling.
	TopLimit int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		LoyalThreshold:    5,
		SlowMovingDays:    30,
		LowStockThreshold: 10,
		TopLimit:          10,
	}
}

// Validate rejects non-positive thresholds.
func (c Config) Validate() error {
	switch {
	case c.LoyalThreshold < 1:
		return apperr.Validation("loyal_threshold", "must be positive, got %d", c.LoyalThreshold)
	case c.SlowMovingDays < 1:
		return apperr.Validation("slow_moving_days", "must be positive, got %d", c.SlowMovingDays)
	case c.LowStockThreshold < 0:
		return apperr.Validation("low_stock_threshold", "must not be negative, got %d", c.LowStockThreshold)
	case c.TopLimit < 1:
		return apperr.Validation("top_limit", "must be positive, got %d", c.TopLimit)
	}
	return nil
}

// CustomerSegment names a customer classification.
type CustomerSegment string

const (
	CustomerNew       CustomerSegment = "new"
	CustomerReturning CustomerSegment = "returning"
	CustomerLoyal     CustomerSegment = "loyal"
)

// CustomerProfile is the order history of one customer as of the snapshot.
// Cancelled orders are not counted.
type CustomerProfile struct {
	CustomerID     string
	Orders         int
	Revenue        decimal.Decimal
	OrdersInRange  int
	RevenueInRange decimal.Decimal
	FirstOrderAt   time.Time
	LastOrderAt    time.Time

	New       bool
	Returning bool
	Loyal     bool
}

// Segments lists the segments the customer belongs to.
func (p CustomerProfile) Segments() []CustomerSegment {
	var out []CustomerSegment
	if p.New {
		out = append(out, CustomerNew)
	}
	if p.Returning {
		out = append(out, CustomerReturning)
	}
	if p.Loyal {
		out = append(out, CustomerLoyal)
	}
	return out
}

const checkEvery = 1024

// Customers profiles every customer with at least one non-cancelled order in
// history. history must hold all orders up to the snapshot time; r selects
// the query range. The result is sorted by customer id.
//
// A customer is new when their first order falls in r, returning when they
// have two or more orders up to r.To and the latest of those falls in r, and
// loyal when their order count over all of history reaches
// cfg.LoyalThreshold.
func Customers(ctx context.Context, history []order.Order, r timebucket.Range, cfg Config) ([]CustomerProfile, error) {
	byID := make(map[string]*CustomerProfile)
	throughRange := make(map[string]int)
	for i := range history {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "segment customers")
			}
		}
		o := &history[i]
		if !o.CountsAsRevenue() {
			continue
		}
		p, ok := byID[o.CustomerID]
		if !ok {
			p = &CustomerProfile{CustomerID: o.CustomerID, FirstOrderAt: o.CreatedAt, LastOrderAt: o.CreatedAt}
			byID[o.CustomerID] = p
		}
		p.Orders++
		p.Revenue = p.Revenue.Add(o.Total)
		if o.CreatedAt.Before(p.FirstOrderAt) {
			p.FirstOrderAt = o.CreatedAt
		}
		if o.CreatedAt.After(p.LastOrderAt) {
			p.LastOrderAt = o.CreatedAt
		}
		if o.CreatedAt.Before(r.To) {
			throughRange[o.CustomerID]++
		}
		if r.Contains(o.CreatedAt) {
			p.OrdersInRange++
			p.RevenueInRange = p.RevenueInRange.Add(o.Total)
		}
	}

	out := make([]CustomerProfile, 0, len(byID))
	for _, p := range byID {
		p.New = r.Contains(p.FirstOrderAt)
		p.Returning = p.OrdersInRange > 0 && throughRange[p.CustomerID] >= 2
		p.Loyal = p.Orders >= cfg.LoyalThreshold
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b CustomerProfile) int { return cmp.Compare(a.CustomerID, b.CustomerID) })
	return out, nil
}

// ProductSegment names a product classification.
type ProductSegment string

const (
	ProductTopSelling ProductSegment = "top_selling"
	ProductSlowMoving ProductSegment = "slow_moving"
	ProductLowStock   ProductSegment = "low_stock"
	ProductOutOfStock ProductSegment = "out_of_stock"
)

// ProductStats is the sales and stock position of one catalog product.
// Revenue is the gross line revenue before order-level discounts.
type ProductStats struct {
	ProductID  string
	Name       string
	Category   string
	Price      decimal.Decimal
	Units      int
	Revenue    decimal.Decimal
	Orders     int
	Stock      int
	Threshold  int
	LastSoldAt *time.Time
	// Rank is the 1-based sales rank in range, 0 when nothing sold.
	Rank int

	TopSelling bool
	SlowMoving bool
	LowStock   bool
	OutOfStock bool
}

// Segments lists the segments the product belongs to.
func (s ProductStats) Segments() []ProductSegment {
	var out []ProductSegment
	if s.TopSelling {
		out = append(out, ProductTopSelling)
	}
	if s.SlowMoving {
		out = append(out, ProductSlowMoving)
	}
	if s.LowStock {
		out = append(out, ProductLowStock)
	}
	if s.OutOfStock {
		out = append(out, ProductOutOfStock)
	}
	return out
}

// Products classifies every catalog product as of asOf. Sales are counted
// from non-cancelled orders in r; the last sale is searched over all of
// history. The result is ordered by rank, unsold products last by id.
//
// Ranking is by units sold, then revenue, then product id.
func Products(
	ctx context.Context,
	catalog []product.Product,
	history []order.Order,
	r timebucket.Range,
	asOf time.Time,
	cfg Config,
) ([]ProductStats, error) {
	stats := make(map[string]*ProductStats, len(catalog))
	out := make([]ProductStats, len(catalog))
	for i, p := range catalog {
		threshold := cfg.LowStockThreshold
		if p.MinThreshold != nil {
			threshold = *p.MinThreshold
		}
		out[i] = ProductStats{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Price:     p.Price,
			Stock:     p.TotalStock(),
			Threshold: threshold,
		}
		stats[p.ID] = &out[i]
	}

	for i := range history {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "segment products")
			}
		}
		o := &history[i]
		if !o.CountsAsRevenue() || o.CreatedAt.After(asOf) {
			continue
		}
		inRange := r.Contains(o.CreatedAt)
		counted := make(map[string]bool, len(o.Items))
		for _, item := range o.Items {
			s, ok := stats[item.ProductID]
			if !ok {
				continue
			}
			if s.LastSoldAt == nil || o.CreatedAt.After(*s.LastSoldAt) {
				at := o.CreatedAt
				s.LastSoldAt = &at
			}
			if !inRange {
				continue
			}
			s.Units += item.Quantity
			s.Revenue = s.Revenue.Add(item.LineTotal())
			if !counted[item.ProductID] {
				counted[item.ProductID] = true
				s.Orders++
			}
		}
	}

	slices.SortFunc(out, compareSales)

	slowBefore := asOf.AddDate(0, 0, -cfg.SlowMovingDays)
	for i := range out {
		s := &out[i]
		if s.Units > 0 {
			s.Rank = i + 1
			s.TopSelling = s.Rank <= cfg.TopLimit
		}
		s.OutOfStock = s.Stock <= 0
		s.LowStock = s.Stock > 0 && s.Stock <= s.Threshold
		s.SlowMoving = s.Stock > 0 && (s.LastSoldAt == nil || s.LastSoldAt.Before(slowBefore))
	}
	return out, nil
}

func compareSales(a, b ProductStats) int {
	if c := cmp.Compare(b.Units, a.Units); c != 0 {
		return c
	}
	if c := b.Revenue.Cmp(a.Revenue); c != 0 {
		return c
	}
	return cmp.Compare(a.ProductID, b.ProductID)
}
