package analytics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/segment"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// ReportKind names an exportable report.
type ReportKind string

const (
	ReportSales     ReportKind = "sales"
	ReportProducts  ReportKind = "products"
	ReportOrders    ReportKind = "orders"
	ReportCustomers ReportKind = "customers"
	ReportInventory ReportKind = "inventory"
	ReportCampaigns ReportKind = "campaigns"
	ReportMarkets   ReportKind = "markets"
	ReportRefunds   ReportKind = "refunds"
	ReportTraffic   ReportKind = "traffic"
	ReportDashboard ReportKind = "dashboard"
)

// ReportKinds returns every report kind.
func ReportKinds() []ReportKind {
	return []ReportKind{
		ReportSales, ReportProducts, ReportOrders, ReportCustomers, ReportInventory,
		ReportCampaigns, ReportMarkets, ReportRefunds, ReportTraffic, ReportDashboard,
	}
}

// ParseReportKind validates a report name.
func ParseReportKind(s string) (ReportKind, error) {
	k := ReportKind(strings.ToLower(strings.TrimSpace(s)))
	if !lo.Contains(ReportKinds(), k) {
		return "", apperr.Validation("report", "unknown report %q", s)
	}
	return k, nil
}

// Table is a report flattened to string cells. Decimals carry two places,
// times are RFC 3339 and a missing growth is an empty cell.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Report computes the report of the given kind.
func (a *Aggregator) Report(ctx context.Context, kind ReportKind, q Query) (any, error) {
	switch kind {
	case ReportSales:
		return a.SalesOverview(ctx, q)
	case ReportProducts:
		return a.ProductPerformance(ctx, q)
	case ReportOrders:
		return a.OrderInsights(ctx, q)
	case ReportCustomers:
		return a.CustomerInsights(ctx, q)
	case ReportInventory:
		return a.InventoryInsights(ctx, q)
	case ReportCampaigns:
		return a.CampaignPerformance(ctx, q)
	case ReportMarkets:
		return a.MarketRevenue(ctx, q)
	case ReportRefunds:
		return a.Refunds(ctx, q)
	case ReportTraffic:
		return a.Traffic(ctx, q)
	case ReportDashboard:
		return a.Dashboard(ctx, q)
	default:
		return nil, apperr.Validation("report", "unknown report %q", string(kind))
	}
}

// Export computes a report and flattens it into a table.
func (a *Aggregator) Export(ctx context.Context, kind ReportKind, q Query) (*Table, error) {
	v, err := a.Report(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	switch r := v.(type) {
	case *SalesOverview:
		return salesTable(r), nil
	case *ProductPerformance:
		return productsTable(r), nil
	case *OrderInsights:
		return ordersTable(r), nil
	case *CustomerInsights:
		return customersTable(r), nil
	case *InventoryInsights:
		return inventoryTable(r), nil
	case *CampaignPerformance:
		return campaignsTable(r), nil
	case *MarketRevenue:
		return marketsTable(r), nil
	case *RefundReport:
		return refundsTable(r), nil
	case *TrafficReport:
		return trafficTable(r), nil
	case *Dashboard:
		return dashboardTable(r), nil
	default:
		return nil, apperr.Validation("report", "report %q cannot be exported", string(kind))
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func growth(g *decimal.Decimal) string {
	if g == nil {
		return ""
	}
	return g.StringFixed(2)
}

func itoa(n int) string { return strconv.Itoa(n) }

func stamp(t time.Time) string { return t.Format(time.RFC3339) }

func salesTable(r *SalesOverview) *Table {
	t := &Table{Columns: []string{"start", "end", "orders", "revenue", "units", "average_order_value"}}
	for _, b := range r.Breakdown {
		t.Rows = append(t.Rows, []string{
			stamp(b.Start), stamp(b.End), itoa(b.Orders), money(b.Revenue), itoa(b.Units), money(b.AverageOrderValue),
		})
	}
	return t
}

func productsTable(r *ProductPerformance) *Table {
	t := &Table{Columns: []string{
		"product_id", "name", "category", "rank", "units", "orders", "revenue", "revenue_share", "stock", "segments",
	}}
	for _, p := range r.Products {
		segments := lo.Map(p.Segments, func(s segment.ProductSegment, _ int) string { return string(s) })
		t.Rows = append(t.Rows, []string{
			p.ProductID, p.Name, p.Category, itoa(p.Rank), itoa(p.Units), itoa(p.Orders),
			money(p.Revenue), money(p.RevenueShare), itoa(p.Stock), strings.Join(segments, "|"),
		})
	}
	return t
}

func ordersTable(r *OrderInsights) *Table {
	t := &Table{Columns: []string{"dimension", "key", "count", "amount", "percentage"}}
	add := func(dim string, list []Share) {
		for _, s := range list {
			t.Rows = append(t.Rows, []string{dim, s.Key, itoa(s.Count), money(s.Amount), money(s.Percentage)})
		}
	}
	add("status", r.StatusDistribution)
	add("payment_method", r.PaymentMethods)
	add("payment_status", r.PaymentStatuses)
	return t
}

func customersTable(r *CustomerInsights) *Table {
	t := &Table{Columns: []string{
		"customer_id", "orders", "orders_in_range", "revenue", "revenue_in_range", "first_order_at", "last_order_at", "segments",
	}}
	for _, c := range r.TopCustomers {
		segments := lo.Map(c.Segments, func(s segment.CustomerSegment, _ int) string { return string(s) })
		t.Rows = append(t.Rows, []string{
			c.CustomerID, itoa(c.Orders), itoa(c.OrdersInRange), money(c.Revenue), money(c.RevenueInRange),
			stamp(c.FirstOrderAt), stamp(c.LastOrderAt), strings.Join(segments, "|"),
		})
	}
	return t
}

func inventoryTable(r *InventoryInsights) *Table {
	t := &Table{Columns: []string{
		"segment", "product_id", "name", "category", "stock", "threshold", "units_sold", "last_sold_at",
	}}
	add := func(name string, rows []InventoryRow) {
		for _, p := range rows {
			last := ""
			if p.LastSoldAt != nil {
				last = stamp(*p.LastSoldAt)
			}
			t.Rows = append(t.Rows, []string{
				name, p.ProductID, p.Name, p.Category, itoa(p.Stock), itoa(p.Threshold), itoa(p.UnitsSold), last,
			})
		}
	}
	add("low_stock", r.LowStock)
	add("out_of_stock", r.OutOfStock)
	add("slow_moving", r.SlowMoving)
	add("top_selling", r.TopSelling)
	return t
}

func campaignsTable(r *CampaignPerformance) *Table {
	t := &Table{Columns: []string{
		"campaign_id", "codes", "orders", "units", "revenue", "discount", "average_discount", "revenue_share",
	}}
	for _, c := range r.Campaigns {
		t.Rows = append(t.Rows, []string{
			c.CampaignID, strings.Join(c.Codes, "|"), itoa(c.Orders), itoa(c.Units),
			money(c.Revenue), money(c.Discount), money(c.AverageDiscount), money(c.RevenueShare),
		})
	}
	return t
}

func marketsTable(r *MarketRevenue) *Table {
	t := &Table{Columns: []string{
		"market", "orders", "revenue", "average_order_value", "share", "previous_revenue", "growth",
	}}
	for _, m := range r.Markets {
		t.Rows = append(t.Rows, []string{
			m.Market, itoa(m.Orders), money(m.Revenue), money(m.AverageOrderValue),
			money(m.Share), money(m.PreviousRevenue), growth(m.Growth),
		})
	}
	return t
}

func refundsTable(r *RefundReport) *Table {
	t := &Table{Columns: []string{"start", "end", "count", "amount"}}
	for _, p := range r.Series {
		t.Rows = append(t.Rows, []string{stamp(p.Start), stamp(p.End), itoa(p.Count), money(p.Value)})
	}
	return t
}

func trafficTable(r *TrafficReport) *Table {
	t := &Table{Columns: []string{"start", "end", "sessions", "visitors", "page_views", "orders"}}
	for _, b := range r.Series {
		t.Rows = append(t.Rows, []string{
			stamp(b.Start), stamp(b.End),
			strconv.FormatInt(b.Sessions, 10), strconv.FormatInt(b.Visitors, 10), strconv.FormatInt(b.PageViews, 10),
			itoa(b.Orders),
		})
	}
	return t
}

func dashboardTable(r *Dashboard) *Table {
	t := &Table{Columns: []string{
		"period", "from", "to",
		"revenue", "previous_revenue", "revenue_growth",
		"orders", "previous_orders", "orders_growth",
		"average_order_value", "previous_average_order_value", "average_order_value_growth",
		"units", "cancellation_rate",
	}}
	for _, p := range r.Periods {
		t.Rows = append(t.Rows, []string{
			p.Period.String(), stamp(p.Current.From), stamp(p.Current.To),
			money(p.Revenue.Value), money(p.Revenue.Previous), growth(p.Revenue.Growth),
			p.Orders.Value.String(), p.Orders.Previous.String(), growth(p.Orders.Growth),
			money(p.AverageOrderValue.Value), money(p.AverageOrderValue.Previous), growth(p.AverageOrderValue.Growth),
			itoa(p.Units), money(p.CancellationRate),
		})
	}
	return t
}
