package analytics

import (
	"cmp"
	"context"
	"slices"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// SortDiscount orders campaigns by discount granted.
const SortDiscount = "discount"

// CampaignPerformance reports the orders placed with a discount, per campaign.
type CampaignPerformance struct {
	Range            timebucket.Range `json:"range"`
	DiscountedOrders int              `json:"discounted_orders"`
	DiscountedShare  decimal.Decimal  `json:"discounted_share"`
	Revenue          decimal.Decimal  `json:"revenue"`
	Discount         decimal.Decimal  `json:"discount"`
	Campaigns        []CampaignRow    `json:"campaigns"`
}

// CampaignRow is one campaign. Orders with a code but no campaign are keyed by
// the code.
type CampaignRow struct {
	CampaignID      string          `json:"campaign_id"`
	Codes           []string        `json:"codes"`
	Orders          int             `json:"orders"`
	Units           int             `json:"units"`
	Revenue         decimal.Decimal `json:"revenue"`
	Discount        decimal.Decimal `json:"discount"`
	AverageDiscount decimal.Decimal `json:"average_discount"`
	RevenueShare    decimal.Decimal `json:"revenue_share"`
}

// CampaignPerformance groups discounted orders by campaign. Sort is one of
// revenue (default), orders or discount.
func (a *Aggregator) CampaignPerformance(ctx context.Context, q Query) (*CampaignPerformance, error) {
	return report(ctx, a, "campaigns", q, a.campaignPerformance)
}

func (a *Aggregator) campaignPerformance(ctx context.Context, snap *Snapshot, q Query) (*CampaignPerformance, error) {
	sortKey, err := pickSort(q.Sort, SortRevenue, SortRevenue, SortOrders, SortDiscount)
	if err != nil {
		return nil, err
	}
	orders := inRange(snap, q, snap.Range)
	counted := lo.Filter(orders, func(o order.Order, _ int) bool { return q.counts(&o) })
	discounted := lo.Filter(counted, func(o order.Order, _ int) bool { return campaignKey(&o) != "" })
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &CampaignPerformance{
		Range:            snap.Range,
		DiscountedOrders: len(discounted),
		DiscountedShare:  percent(len(discounted), len(counted)),
		Revenue:          decimal.Zero,
		Discount:         decimal.Zero,
	}

	groups := lo.GroupBy(discounted, func(o order.Order) string { return campaignKey(&o) })
	rows := make([]CampaignRow, 0, len(groups))
	for key, group := range groups {
		row := CampaignRow{
			CampaignID: key,
			Codes:      []string{},
			Revenue:    decimal.Zero,
			Discount:   decimal.Zero,
		}
		for i := range group {
			o := &group[i]
			row.Orders++
			row.Units += o.Units()
			row.Revenue = row.Revenue.Add(o.Total)
			row.Discount = row.Discount.Add(o.DiscountValue)
			if o.DiscountCode != "" && !slices.Contains(row.Codes, o.DiscountCode) {
				row.Codes = append(row.Codes, o.DiscountCode)
			}
		}
		slices.Sort(row.Codes)
		row.AverageDiscount = average(row.Discount, row.Orders)
		out.Revenue = out.Revenue.Add(row.Revenue)
		out.Discount = out.Discount.Add(row.Discount)
		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(x, y CampaignRow) int {
		var c int
		switch sortKey {
		case SortOrders:
			c = cmp.Compare(y.Orders, x.Orders)
		case SortDiscount:
			c = y.Discount.Cmp(x.Discount)
		default:
			c = y.Revenue.Cmp(x.Revenue)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(x.CampaignID, y.CampaignID)
	})
	for i, pct := range Distribute(lo.Map(rows, func(r CampaignRow, _ int) decimal.Decimal { return r.Revenue })) {
		rows[i].RevenueShare = pct
	}
	out.Campaigns = lo.Slice(rows, 0, q.limit(defaultLimit))
	return out, nil
}

// MarketRevenue reports revenue per shipping country against the preceding
// period of equal length.
type MarketRevenue struct {
	Range    timebucket.Range `json:"range"`
	Previous timebucket.Range `json:"previous"`
	Revenue  decimal.Decimal  `json:"revenue"`
	Markets  []MarketRow      `json:"markets"`
}

// MarketRow is one market. Orders without a country fall under "unknown".
type MarketRow struct {
	Market            string           `json:"market"`
	Orders            int              `json:"orders"`
	Revenue           decimal.Decimal  `json:"revenue"`
	AverageOrderValue decimal.Decimal  `json:"average_order_value"`
	Share             decimal.Decimal  `json:"share"`
	PreviousRevenue   decimal.Decimal  `json:"previous_revenue"`
	Growth            *decimal.Decimal `json:"growth"`
}

// MarketRevenue groups revenue by market. Sort is one of revenue (default)
// or orders.
func (a *Aggregator) MarketRevenue(ctx context.Context, q Query) (*MarketRevenue, error) {
	return report(ctx, a, "markets", q, a.marketRevenue)
}

func (a *Aggregator) marketRevenue(ctx context.Context, snap *Snapshot, q Query) (*MarketRevenue, error) {
	sortKey, err := pickSort(q.Sort, SortRevenue, SortRevenue, SortOrders)
	if err != nil {
		return nil, err
	}
	prevRange := snap.Range.Previous()
	current := byMarket(inRange(snap, q, snap.Range), q)
	previous := byMarket(inRange(snap, q, prevRange), q)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &MarketRevenue{Range: snap.Range, Previous: prevRange, Revenue: decimal.Zero}
	rows := make([]MarketRow, 0, len(current))
	for market, t := range current {
		prior := previous[market].revenue
		rows = append(rows, MarketRow{
			Market:            market,
			Orders:            t.orders,
			Revenue:           t.revenue,
			AverageOrderValue: average(t.revenue, t.orders),
			PreviousRevenue:   prior,
			Growth:            Growth(t.revenue, prior),
		})
		out.Revenue = out.Revenue.Add(t.revenue)
	}
	slices.SortFunc(rows, func(x, y MarketRow) int {
		c := y.Revenue.Cmp(x.Revenue)
		if sortKey == SortOrders {
			c = cmp.Compare(y.Orders, x.Orders)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(x.Market, y.Market)
	})
	for i, pct := range Distribute(lo.Map(rows, func(r MarketRow, _ int) decimal.Decimal { return r.Revenue })) {
		rows[i].Share = pct
	}
	out.Markets = lo.Slice(rows, 0, q.limit(defaultLimit))
	return out, nil
}

func byMarket(orders []order.Order, q Query) map[string]totals {
	out := make(map[string]totals)
	for market, group := range lo.GroupBy(orders, func(o order.Order) string { return o.Market() }) {
		t := sumOrders(group, q)
		if t.orders > 0 {
			out[market] = t
		}
	}
	return out
}
