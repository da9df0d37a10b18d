package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// SalesOverview summarizes revenue for a range against the preceding period
// of equal length.
type SalesOverview struct {
	Range             timebucket.Range       `json:"range"`
	Previous          timebucket.Range       `json:"previous"`
	GroupBy           timebucket.Granularity `json:"group_by"`
	Currency          string                 `json:"currency"`
	Revenue           Comparison             `json:"revenue"`
	Orders            Comparison             `json:"orders"`
	AverageOrderValue Comparison             `json:"average_order_value"`
	Units             int                    `json:"units"`
	Discounts         decimal.Decimal        `json:"discounts"`
	// Refunds are the refunds issued in range against counted revenue.
	Refunds    decimal.Decimal `json:"refunds"`
	NetRevenue decimal.Decimal `json:"net_revenue"`
	Breakdown  []SalesBucket   `json:"breakdown"`
}

// SalesBucket is one bucket of the sales breakdown.
type SalesBucket struct {
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	Orders            int             `json:"orders"`
	Revenue           decimal.Decimal `json:"revenue"`
	Units             int             `json:"units"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}

// SalesOverview reports revenue, order and unit totals with a bucketed
// breakdown.
func (a *Aggregator) SalesOverview(ctx context.Context, q Query) (*SalesOverview, error) {
	return report(ctx, a, "sales", q, func(ctx context.Context, snap *Snapshot, q Query) (*SalesOverview, error) {
		return a.sales(ctx, snap, q, snap.Range, snap.Range.Previous())
	})
}

func (a *Aggregator) sales(ctx context.Context, snap *Snapshot, q Query, cur, prev timebucket.Range) (*SalesOverview, error) {
	current := inRange(snap, q, cur)
	previous := inRange(snap, q, prev)

	ct := sumOrders(current, q)
	pt := sumOrders(previous, q)

	out := &SalesOverview{
		Range:             cur,
		Previous:          prev,
		GroupBy:           q.GroupBy,
		Currency:          a.cfg.Currency.String(),
		Revenue:           compare(ct.revenue, pt.revenue),
		Orders:            compareInt(ct.orders, pt.orders),
		AverageOrderValue: compare(average(ct.revenue, ct.orders), average(pt.revenue, pt.orders)),
		Units:             ct.units,
		Discounts:         decimal.Zero,
		Refunds:           decimal.Zero,
	}
	for i := range current {
		o := &current[i]
		if !q.counts(o) {
			continue
		}
		out.Discounts = out.Discounts.Add(o.DiscountValue)
	}
	// Refunds issued in range may belong to orders placed before it.
	for i := range snap.Orders {
		o := &snap.Orders[i]
		if !o.CountsAsRevenue() || !q.match(o) {
			continue
		}
		for _, r := range o.Refunds {
			if cur.Contains(r.CreatedAt) {
				out.Refunds = out.Refunds.Add(r.Amount)
			}
		}
	}
	out.NetRevenue = ct.revenue.Sub(out.Refunds)

	opts := timebucket.Options{IncludeCancelled: q.IncludeCancelled, Location: a.cfg.Location}
	buckets, err := timebucket.Orders(ctx, current, cur, q.GroupBy, opts)
	if err != nil {
		return nil, err
	}
	units, err := timebucket.Fill(ctx, current, cur, q.GroupBy, a.cfg.Location,
		func(o order.Order) time.Time { return o.CreatedAt },
		func(v *int, o order.Order) {
			if q.counts(&o) {
				*v += o.Units()
			}
		},
	)
	if err != nil {
		return nil, err
	}

	out.Breakdown = make([]SalesBucket, len(buckets))
	for i, b := range buckets {
		out.Breakdown[i] = SalesBucket{
			Start:             b.Start,
			End:               b.End,
			Orders:            b.RevenueOrders,
			Revenue:           b.Revenue,
			Units:             units[i].Value,
			AverageOrderValue: average(b.Revenue, b.RevenueOrders),
		}
	}
	return out, nil
}
