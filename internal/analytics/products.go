package analytics

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/segment"
	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// ProductPerformance ranks catalog products by sales in range.
type ProductPerformance struct {
	Range        timebucket.Range `json:"range"`
	Sort         string           `json:"sort"`
	TotalUnits   int              `json:"total_units"`
	TotalRevenue decimal.Decimal  `json:"total_revenue"`
	Products     []ProductRow     `json:"products"`
}

// ProductRow is the sales position of one product.
type ProductRow struct {
	ProductID    string                   `json:"product_id"`
	Name         string                   `json:"name"`
	Category     string                   `json:"category"`
	Rank         int                      `json:"rank"`
	Units        int                      `json:"units"`
	Orders       int                      `json:"orders"`
	Revenue      decimal.Decimal          `json:"revenue"`
	RevenueShare decimal.Decimal          `json:"revenue_share"`
	Stock        int                      `json:"stock"`
	Segments     []segment.ProductSegment `json:"segments"`
}

const (
	SortUnits   = "units"
	SortRevenue = "revenue"
	SortName    = "name"
	SortOrders  = "orders"
)

// ProductPerformance reports units and revenue per product. Sort is one of
// units (default), revenue or name.
func (a *Aggregator) ProductPerformance(ctx context.Context, q Query) (*ProductPerformance, error) {
	return report(ctx, a, "products", q, a.productPerformance)
}

func (a *Aggregator) productPerformance(ctx context.Context, snap *Snapshot, q Query) (*ProductPerformance, error) {
	sortKey, err := pickSort(q.Sort, SortUnits, SortUnits, SortRevenue, SortName)
	if err != nil {
		return nil, err
	}
	stats, err := a.productStats(ctx, snap, q)
	if err != nil {
		return nil, err
	}

	rows := make([]ProductRow, len(stats))
	revenues := make([]decimal.Decimal, len(stats))
	out := &ProductPerformance{Range: snap.Range, Sort: sortKey, TotalRevenue: decimal.Zero}
	for i, s := range stats {
		rows[i] = ProductRow{
			ProductID: s.ProductID,
			Name:      s.Name,
			Category:  s.Category,
			Rank:      s.Rank,
			Units:     s.Units,
			Orders:    s.Orders,
			Revenue:   s.Revenue,
			Stock:     s.Stock,
			Segments:  s.Segments(),
		}
		revenues[i] = s.Revenue
		out.TotalUnits += s.Units
		out.TotalRevenue = out.TotalRevenue.Add(s.Revenue)
	}
	for i, pct := range Distribute(revenues) {
		rows[i].RevenueShare = pct
	}

	switch sortKey {
	case SortRevenue:
		slices.SortStableFunc(rows, func(x, y ProductRow) int {
			if c := y.Revenue.Cmp(x.Revenue); c != 0 {
				return c
			}
			return cmp.Compare(y.Units, x.Units)
		})
	case SortName:
		slices.SortStableFunc(rows, func(x, y ProductRow) int {
			if c := cmp.Compare(strings.ToLower(x.Name), strings.ToLower(y.Name)); c != 0 {
				return c
			}
			return cmp.Compare(x.ProductID, y.ProductID)
		})
	}

	out.Products = lo.Slice(rows, 0, q.limit(defaultLimit))
	return out, nil
}

// productStats classifies the catalog, restricted to q.Category, against
// the filtered order history.
func (a *Aggregator) productStats(ctx context.Context, snap *Snapshot, q Query) ([]segment.ProductStats, error) {
	catalog := snap.Products
	if q.Category != "" {
		catalog = lo.Filter(catalog, func(p product.Product, _ int) bool { return p.Category == q.Category })
	}
	return segment.Products(ctx, catalog, history(snap, q), snap.Range, snap.AsOf, a.cfg.Segments)
}

// InventoryInsights is the stock position of the catalog as of the snapshot.
type InventoryInsights struct {
	AsOf       time.Time        `json:"as_of"`
	Range      timebucket.Range `json:"range"`
	Products   int              `json:"products"`
	StockUnits int              `json:"stock_units"`
	StockValue decimal.Decimal  `json:"stock_value"`
	LowStock   []InventoryRow   `json:"low_stock"`
	OutOfStock []InventoryRow   `json:"out_of_stock"`
	SlowMoving []InventoryRow   `json:"slow_moving"`
	TopSelling []InventoryRow   `json:"top_selling"`
}

// InventoryRow is one product in an inventory list.
type InventoryRow struct {
	ProductID  string     `json:"product_id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Stock      int        `json:"stock"`
	Threshold  int        `json:"threshold"`
	UnitsSold  int        `json:"units_sold"`
	LastSoldAt *time.Time `json:"last_sold_at"`
}

// InventoryInsights lists products per stock segment.
func (a *Aggregator) InventoryInsights(ctx context.Context, q Query) (*InventoryInsights, error) {
	return report(ctx, a, "inventory", q, a.inventoryInsights)
}

func (a *Aggregator) inventoryInsights(ctx context.Context, snap *Snapshot, q Query) (*InventoryInsights, error) {
	stats, err := a.productStats(ctx, snap, q)
	if err != nil {
		return nil, err
	}

	out := &InventoryInsights{
		AsOf:       snap.AsOf,
		Range:      snap.Range,
		Products:   len(stats),
		StockValue: decimal.Zero,
		LowStock:   []InventoryRow{},
		OutOfStock: []InventoryRow{},
		SlowMoving: []InventoryRow{},
		TopSelling: []InventoryRow{},
	}
	for _, p := range snap.Products {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out.StockUnits += p.TotalStock()
		out.StockValue = out.StockValue.Add(stockValue(p))
	}

	limit := q.limit(defaultLimit)
	for _, s := range stats {
		row := InventoryRow{
			ProductID:  s.ProductID,
			Name:       s.Name,
			Category:   s.Category,
			Stock:      s.Stock,
			Threshold:  s.Threshold,
			UnitsSold:  s.Units,
			LastSoldAt: s.LastSoldAt,
		}
		if s.LowStock && len(out.LowStock) < limit {
			out.LowStock = append(out.LowStock, row)
		}
		if s.OutOfStock && len(out.OutOfStock) < limit {
			out.OutOfStock = append(out.OutOfStock, row)
		}
		if s.SlowMoving && len(out.SlowMoving) < limit {
			out.SlowMoving = append(out.SlowMoving, row)
		}
		if s.TopSelling && len(out.TopSelling) < limit {
			out.TopSelling = append(out.TopSelling, row)
		}
	}
	return out, nil
}

func stockValue(p product.Product) decimal.Decimal {
	if len(p.Variants) == 0 {
		return p.Price.Mul(decimal.NewFromInt(int64(p.Stock)))
	}
	sum := decimal.Zero
	for _, v := range p.Variants {
		sum = sum.Add(p.UnitPrice(v.ID).Mul(decimal.NewFromInt(int64(v.Stock))))
	}
	return sum
}

// pickSort validates a sort key against the allowed ones.
func pickSort(key, def string, allowed ...string) (string, error) {
	if key == "" {
		return def, nil
	}
	if !slices.Contains(allowed, key) {
		return "", apperr.Validation("sort", "unknown sort %q, want one of %s", key, strings.Join(allowed, ", "))
	}
	return key, nil
}
