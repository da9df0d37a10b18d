package analytics

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// RefundReport covers refunds issued in a range.
type RefundReport struct {
	Range  timebucket.Range `json:"range"`
	Count  int              `json:"count"`
	Amount decimal.Decimal  `json:"amount"`
	// PaidOrders are orders created in range whose payment was captured;
	// RefundedOrders is the subset refunded since.
	PaidOrders     int             `json:"paid_orders"`
	RefundedOrders int             `json:"refunded_orders"`
	RefundRate     decimal.Decimal `json:"refund_rate"`
	Reasons        []Share         `json:"reasons"`
	Series         []SeriesPoint   `json:"series"`
}

// Refunds reports refund volume, rate and reasons.
func (a *Aggregator) Refunds(ctx context.Context, q Query) (*RefundReport, error) {
	return report(ctx, a, "refunds", q, a.refunds)
}

func (a *Aggregator) refunds(ctx context.Context, snap *Snapshot, q Query) (*RefundReport, error) {
	// A refund belongs to the range it was issued in, whenever the order was placed.
	issued := lo.FlatMap(history(snap, q), func(o order.Order, _ int) []order.Refund {
		return lo.Filter(o.Refunds, func(r order.Refund, _ int) bool { return snap.Range.Contains(r.CreatedAt) })
	})

	out := &RefundReport{Range: snap.Range, Count: len(issued), Amount: decimal.Zero}
	counts := make(map[string]int)
	amounts := make(map[string]decimal.Decimal)
	for _, r := range issued {
		out.Amount = out.Amount.Add(r.Amount)
		reason := string(r.Reason)
		counts[reason]++
		amounts[reason] = amounts[reason].Add(r.Amount)
	}
	out.Reasons = shares(reasonKeys(), counts, amounts)

	for _, o := range inRange(snap, q, snap.Range) {
		if !o.Payment.Captured() {
			continue
		}
		out.PaidOrders++
		if o.Payment.Status == order.PaymentRefunded {
			out.RefundedOrders++
		}
	}
	out.RefundRate = percent(out.RefundedOrders, out.PaidOrders)

	slots, err := timebucket.Fill(ctx, issued, snap.Range, q.GroupBy, a.cfg.Location,
		func(r order.Refund) time.Time { return r.CreatedAt },
		func(v *point, r order.Refund) {
			v.count++
			v.value = v.value.Add(r.Amount)
		},
	)
	if err != nil {
		return nil, err
	}
	out.Series = series(slots)
	return out, nil
}

func reasonKeys() []string {
	return lo.Map(order.RefundReasons(), func(r order.RefundReason, _ int) string { return string(r) })
}
