package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/segment"
	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
)

// CustomerInsights describes the customers active in a range.
type CustomerInsights struct {
	Range                    timebucket.Range `json:"range"`
	ActiveCustomers          int              `json:"active_customers"`
	NewCustomers             int              `json:"new_customers"`
	ReturningCustomers       int              `json:"returning_customers"`
	LoyalCustomers           int              `json:"loyal_customers"`
	RepeatRate               decimal.Decimal  `json:"repeat_rate"`
	AverageOrdersPerCustomer decimal.Decimal  `json:"average_orders_per_customer"`
	AverageLifetimeValue     decimal.Decimal  `json:"average_lifetime_value"`
	TopCustomers             []CustomerRow    `json:"top_customers"`
	NewCustomerSeries        []SeriesPoint    `json:"new_customer_series"`
}

// CustomerRow is one customer in the top list.
type CustomerRow struct {
	CustomerID     string                    `json:"customer_id"`
	Orders         int                       `json:"orders"`
	OrdersInRange  int                       `json:"orders_in_range"`
	Revenue        decimal.Decimal           `json:"revenue"`
	RevenueInRange decimal.Decimal           `json:"revenue_in_range"`
	FirstOrderAt   time.Time                 `json:"first_order_at"`
	LastOrderAt    time.Time                 `json:"last_order_at"`
	Segments       []segment.CustomerSegment `json:"segments"`
}

// CustomerInsights reports new, returning and loyal customers. Sort is one of
// revenue (default) or orders and applies to the top list.
func (a *Aggregator) CustomerInsights(ctx context.Context, q Query) (*CustomerInsights, error) {
	return report(ctx, a, "customers", q, a.customerInsights)
}

func (a *Aggregator) customerInsights(ctx context.Context, snap *Snapshot, q Query) (*CustomerInsights, error) {
	sortKey, err := pickSort(q.Sort, SortRevenue, SortRevenue, SortOrders)
	if err != nil {
		return nil, err
	}
	profiles, err := segment.Customers(ctx, history(snap, q), snap.Range, a.cfg.Segments)
	if err != nil {
		return nil, err
	}

	active := lo.Filter(profiles, func(p segment.CustomerProfile, _ int) bool { return p.OrdersInRange > 0 })

	out := &CustomerInsights{
		Range:              snap.Range,
		ActiveCustomers:    len(active),
		NewCustomers:       lo.CountBy(profiles, func(p segment.CustomerProfile) bool { return p.New }),
		ReturningCustomers: lo.CountBy(profiles, func(p segment.CustomerProfile) bool { return p.Returning }),
		LoyalCustomers:     lo.CountBy(active, func(p segment.CustomerProfile) bool { return p.Loyal }),
	}

	orders := 0
	lifetime := decimal.Zero
	repeat := 0
	for _, p := range active {
		orders += p.OrdersInRange
		lifetime = lifetime.Add(p.Revenue)
		if p.Orders >= 2 {
			repeat++
		}
	}
	out.RepeatRate = percent(repeat, len(active))
	out.AverageOrdersPerCustomer = average(decimal.NewFromInt(int64(orders)), len(active))
	out.AverageLifetimeValue = average(lifetime, len(active))

	slices.SortStableFunc(active, func(x, y segment.CustomerProfile) int {
		if sortKey == SortOrders {
			if c := cmp.Compare(y.OrdersInRange, x.OrdersInRange); c != 0 {
				return c
			}
		}
		if c := y.RevenueInRange.Cmp(x.RevenueInRange); c != 0 {
			return c
		}
		if c := cmp.Compare(y.OrdersInRange, x.OrdersInRange); c != 0 {
			return c
		}
		return cmp.Compare(x.CustomerID, y.CustomerID)
	})
	out.TopCustomers = lo.Map(lo.Slice(active, 0, q.limit(a.cfg.Segments.TopLimit)), func(p segment.CustomerProfile, _ int) CustomerRow {
		return CustomerRow{
			CustomerID:     p.CustomerID,
			Orders:         p.Orders,
			OrdersInRange:  p.OrdersInRange,
			Revenue:        p.Revenue,
			RevenueInRange: p.RevenueInRange,
			FirstOrderAt:   p.FirstOrderAt,
			LastOrderAt:    p.LastOrderAt,
			Segments:       p.Segments(),
		}
	})

	newcomers := lo.Filter(profiles, func(p segment.CustomerProfile, _ int) bool { return p.New })
	slots, err := timebucket.Fill(ctx, newcomers, snap.Range, q.GroupBy, a.cfg.Location,
		func(p segment.CustomerProfile) time.Time { return p.FirstOrderAt },
		func(v *point, p segment.CustomerProfile) {
			v.count++
			v.value = v.value.Add(p.RevenueInRange)
		},
	)
	if err != nil {
		return nil, err
	}
	out.NewCustomerSeries = series(slots)
	return out, nil
}

func series(slots []timebucket.Slot[point]) []SeriesPoint {
	out := make([]SeriesPoint, len(slots))
	for i, s := range slots {
		out[i] = SeriesPoint{Start: s.Start, End: s.End, Count: s.Value.count, Value: s.Value.value}
	}
	return out
}
