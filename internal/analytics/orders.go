package analytics

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// OrderInsights describes the order mix of a range. Distributions cover every
// order in range, cancelled included.
type OrderInsights struct {
	Range              timebucket.Range    `json:"range"`
	TotalOrders        int                 `json:"total_orders"`
	CancelledOrders    int                 `json:"cancelled_orders"`
	CancellationRate   decimal.Decimal     `json:"cancellation_rate"`
	AverageOrderValue  decimal.Decimal     `json:"average_order_value"`
	ItemsPerOrder      decimal.Decimal     `json:"items_per_order"`
	StatusDistribution []Share             `json:"status_distribution"`
	PaymentMethods     []Share             `json:"payment_methods"`
	PaymentStatuses    []Share             `json:"payment_statuses"`
	Breakdown          []timebucket.Bucket `json:"breakdown"`
}

// OrderInsights reports status and payment distributions for the range.
func (a *Aggregator) OrderInsights(ctx context.Context, q Query) (*OrderInsights, error) {
	return report(ctx, a, "orders", q, func(ctx context.Context, snap *Snapshot, q Query) (*OrderInsights, error) {
		return a.orderInsights(ctx, snap, q, snap.Range)
	})
}

func (a *Aggregator) orderInsights(ctx context.Context, snap *Snapshot, q Query, r timebucket.Range) (*OrderInsights, error) {
	orders := inRange(snap, q, r)

	statusCounts := make(map[string]int)
	statusAmounts := make(map[string]decimal.Decimal)
	methodCounts := make(map[string]int)
	methodAmounts := make(map[string]decimal.Decimal)
	paymentCounts := make(map[string]int)
	paymentAmounts := make(map[string]decimal.Decimal)
	cancelled := 0
	for i := range orders {
		o := &orders[i]
		status := o.Status.String()
		statusCounts[status]++
		statusAmounts[status] = statusAmounts[status].Add(o.Total)

		method := string(o.Payment.Method)
		methodCounts[method]++
		methodAmounts[method] = methodAmounts[method].Add(o.Total)

		ps := string(o.Payment.Status)
		paymentCounts[ps]++
		paymentAmounts[ps] = paymentAmounts[ps].Add(o.Payment.Amount)

		if o.Status == order.StatusCancelled {
			cancelled++
		}
	}

	t := sumOrders(orders, q)
	out := &OrderInsights{
		Range:              r,
		TotalOrders:        len(orders),
		CancelledOrders:    cancelled,
		CancellationRate:   percent(cancelled, len(orders)),
		AverageOrderValue:  average(t.revenue, t.orders),
		ItemsPerOrder:      average(decimal.NewFromInt(int64(t.units)), t.orders),
		StatusDistribution: shares(statusKeys(), statusCounts, statusAmounts),
		PaymentMethods:     shares(methodKeys(), methodCounts, methodAmounts),
		PaymentStatuses:    shares(paymentStatusKeys(), paymentCounts, paymentAmounts),
	}

	opts := timebucket.Options{IncludeCancelled: q.IncludeCancelled, Location: a.cfg.Location}
	buckets, err := timebucket.Orders(ctx, orders, r, q.GroupBy, opts)
	if err != nil {
		return nil, err
	}
	out.Breakdown = buckets
	return out, nil
}

func statusKeys() []string {
	statuses := order.Statuses()
	keys := make([]string, len(statuses))
	for i, s := range statuses {
		keys[i] = s.String()
	}
	return keys
}

func methodKeys() []string {
	methods := order.PaymentMethods()
	keys := make([]string, len(methods))
	for i, m := range methods {
		keys[i] = string(m)
	}
	return keys
}

func paymentStatusKeys() []string {
	statuses := order.PaymentStatuses()
	keys := make([]string, len(statuses))
	for i, s := range statuses {
		keys[i] = string(s)
	}
	return keys
}
